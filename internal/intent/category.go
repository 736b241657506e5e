package intent

import "strings"

// Category is the closed classification label assigned to one user turn.
// It scopes the capability set visible to the model and is never persisted;
// every turn is classified fresh.
type Category string

const (
	CategorySmalltalk  Category = "smalltalk"
	CategoryLeads      Category = "leads"
	CategoryProperties Category = "properties"
	CategoryEmail      Category = "email"
	CategoryCalendar   Category = "calendar"
	CategoryDocuments  Category = "documents"
	CategoryContacts   Category = "contacts"
	// CategoryMulti is the catch-all: the full capability set is exposed.
	// Also the conservative fallback on classification failure, so a bad
	// classification can over-provision but never starve the model of tools.
	CategoryMulti Category = "multi"
)

// All lists every valid category, in the order shown to the fallback model.
func All() []Category {
	return []Category{
		CategorySmalltalk,
		CategoryLeads,
		CategoryProperties,
		CategoryEmail,
		CategoryCalendar,
		CategoryDocuments,
		CategoryContacts,
		CategoryMulti,
	}
}

// Parse validates a raw model token against the enumeration with a
// prefix-tolerant match ("lead" and "leads." both resolve to leads).
// Returns CategoryMulti when nothing matches.
func Parse(raw string) Category {
	token := strings.ToLower(strings.TrimSpace(raw))
	token = strings.Trim(token, ".:,;\"'")
	if token == "" {
		return CategoryMulti
	}
	for _, c := range All() {
		if token == string(c) {
			return c
		}
	}
	// Tolerate singular/truncated forms, but require enough of the word
	// that "s" doesn't match smalltalk.
	if len(token) >= 4 {
		for _, c := range All() {
			if strings.HasPrefix(string(c), token) {
				return c
			}
		}
	}
	return CategoryMulti
}
