package intent

import (
	"strings"
	"unicode/utf8"
)

// RulesConfig carries the tuned thresholds for the keyword rules. The values
// are empirical, not load-bearing: retune per deployment, don't reason from
// them.
type RulesConfig struct {
	// Messages at or below this many runes are treated as smalltalk unless
	// a domain keyword matches first.
	ShortMessageRunes int
	// Messages longer than this many runes with multiple clauses bias to
	// multi rather than a single narrow domain.
	LongMessageRunes int
}

func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		ShortMessageRunes: 3,
		LongMessageRunes:  280,
	}
}

// greetings that settle a turn as smalltalk on their own. Matched against
// the whole normalized message, not as substrings, so "hi the boiler in
// unit 4 is broken" doesn't short-circuit.
var greetingForms = map[string]struct{}{
	"hi": {}, "hey": {}, "hello": {}, "hallo": {}, "moin": {}, "servus": {},
	"good morning": {}, "good evening": {}, "guten morgen": {}, "guten tag": {},
	"thanks": {}, "thank you": {}, "danke": {}, "ok": {}, "okay": {}, "cool": {},
	"bye": {}, "tschüss": {},
}

// domainKeywords maps each category to the terms that settle it. Order of
// the rule pass matters: greetings and length run first, then these sets in
// a fixed order, first match wins.
var domainKeywords = []struct {
	category Category
	terms    []string
}{
	{CategoryLeads, []string{
		"lead", "leads", "interessent", "prospect", "inquiry", "anfrage",
		"qualify", "follow up", "follow-up",
	}},
	{CategoryProperties, []string{
		"property", "properties", "listing", "immobilie", "wohnung", "haus",
		"apartment", "object", "objekt", "exposé", "expose", "rent", "miete",
		"square meters", "qm",
	}},
	// Action forms only: a bare "email" is usually an address field inside
	// another request ("create a lead with email x@y.de"), not a mail task.
	{CategoryEmail, []string{
		"send an email", "send the email", "send a mail", "write to", "reply",
		"antwort", "draft", "send a message", "schreib", "inbox",
	}},
	{CategoryCalendar, []string{
		"appointment", "viewing", "besichtigung", "termin", "calendar",
		"kalender", "schedule", "reschedule", "tomorrow at", "meeting",
	}},
	{CategoryDocuments, []string{
		"document", "dokument", "attachment", "anhang", "pdf", "file",
		"upload", "contract", "vertrag",
	}},
	{CategoryContacts, []string{
		"contact", "kontakt", "phone number", "telefonnummer", "address",
		"adresse", "owner", "eigentümer",
	}},
}

// classifyByRules runs the ordered pattern pass. Returns ("", false) when no
// rule fires and the LLM fallback should decide. Deterministic, zero I/O.
func classifyByRules(message string, cfg RulesConfig) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if normalized == "" {
		return CategorySmalltalk, true
	}

	trimmed := strings.Trim(normalized, "!?.,:;")
	if _, ok := greetingForms[trimmed]; ok {
		return CategorySmalltalk, true
	}

	// Very short, low-information input is smalltalk: cheapest category,
	// no tools. Longer ambiguous input falls through to the fallback so a
	// genuine request is never starved of capabilities.
	if utf8.RuneCountInString(trimmed) <= cfg.ShortMessageRunes {
		return CategorySmalltalk, true
	}

	var matched []Category
	for _, set := range domainKeywords {
		for _, term := range set.terms {
			if strings.Contains(normalized, term) {
				matched = append(matched, set.category)
				break
			}
		}
	}

	switch len(matched) {
	case 0:
		// No keyword; long multi-clause input tends to mean a compound
		// request, so provision everything rather than guessing narrow.
		if utf8.RuneCountInString(normalized) > cfg.LongMessageRunes {
			return CategoryMulti, true
		}
		return "", false
	case 1:
		return matched[0], true
	default:
		return CategoryMulti, true
	}
}
