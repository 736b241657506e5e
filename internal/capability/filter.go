package capability

import (
	"propflow.app/assist/internal/intent"
)

// categoryCapabilities scopes each category to the capabilities it can
// plausibly need. Categories absent here (multi) expose everything.
var categoryCapabilities = map[intent.Category][]string{
	intent.CategorySmalltalk: {},
	intent.CategoryLeads: {
		"create_lead", "update_lead_status", "find_leads",
		"find_contacts", "list_appointments",
	},
	intent.CategoryProperties: {
		"search_properties", "get_property", "schedule_viewing",
	},
	intent.CategoryEmail: {
		"draft_email", "send_email", "find_leads", "find_contacts",
	},
	intent.CategoryCalendar: {
		"schedule_viewing", "list_appointments", "find_leads",
		"get_property",
	},
	intent.CategoryDocuments: {
		"attach_document", "list_documents", "find_leads",
	},
	intent.CategoryContacts: {
		"create_contact", "find_contacts", "find_leads",
	},
}

// ingestionCapabilities are force-included whenever the turn carries
// attachments, whatever the category: an uploaded file must always have a
// path into the system.
var ingestionCapabilities = []string{"attach_document", "list_documents"}

// Filter returns the descriptors exposed to the model for one turn. Scoping
// narrows the decision surface and the prompt size; it must never leave a
// real request without the tool it needs, so every unknown or compound
// category falls open to the full set.
func (r *Registry) Filter(category intent.Category, hasAttachments bool) []Descriptor {
	names, scoped := categoryCapabilities[category]
	if !scoped {
		return r.Descriptors()
	}

	selected := make(map[string]struct{}, len(names)+len(ingestionCapabilities))
	for _, name := range names {
		selected[name] = struct{}{}
	}
	if hasAttachments {
		for _, name := range ingestionCapabilities {
			selected[name] = struct{}{}
		}
	}

	// Only smalltalk may legitimately resolve to zero capabilities; any
	// other category ending up empty is a scoping bug, so fail open.
	if len(selected) == 0 && category != intent.CategorySmalltalk {
		return r.Descriptors()
	}

	result := make([]Descriptor, 0, len(selected))
	for _, name := range r.order {
		if _, ok := selected[name]; ok {
			result = append(result, r.entries[name].descriptor)
		}
	}
	return result
}
