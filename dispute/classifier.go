package dispute

import "strings"

// Rule maps reason keywords to a dispute category. Rules are evaluated in
// order; the first hit wins.
type Rule struct {
	Category string
	Keywords []string
}

// DefaultRules is the shipped classification table. The table is plain data
// so operators can audit exactly why a reason landed in a category.
var DefaultRules = []Rule{
	{Category: "DIGITAL_GOODS", Keywords: []string{"download", "file", "license", "key", "software", "ebook", "access", "account"}},
	{Category: "SERVICES_TIMED", Keywords: []string{"session", "hour", "consultation", "lesson", "tutoring", "coaching", "appointment"}},
	{Category: "SERVICES_DELIVERABLE", Keywords: []string{"design", "logo", "article", "website", "edit", "freelance", "project", "commission"}},
	{Category: "SOCIAL_PROOF", Keywords: []string{"post", "follow", "share", "promote", "shoutout", "review", "subscriber"}},
	{Category: "PHYSICAL_GOODS", Keywords: []string{"ship", "package", "parcel", "deliver", "arrive", "tracking", "damaged", "broken"}},
}

// DefaultRequirements lists the evidence types the seller must produce per
// category.
var DefaultRequirements = map[string][]string{
	"DIGITAL_GOODS":        {"file_upload", "screenshot_of_deliverable"},
	"SERVICES_TIMED":       {"calendar_proof", "both_parties_confirmation_messages"},
	"SERVICES_DELIVERABLE": {"completed_work_upload", "acceptance_communication"},
	"SOCIAL_PROOF":         {"public_link_to_post", "screenshot_with_timestamp"},
	"PHYSICAL_GOODS":       {"shipping_receipt", "delivery_confirmation"},
}

// Reasons no rule matches default to the broadest category so the seller
// always has a concrete checklist to satisfy.
const fallbackCategory = "PHYSICAL_GOODS"

// KeywordClassifier assigns a category and an evidence checklist from the
// buyer's dispute reason.
type KeywordClassifier struct {
	rules        []Rule
	requirements map[string][]string
}

// NewKeywordClassifier builds a classifier over the default tables.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: DefaultRules, requirements: DefaultRequirements}
}

// Classify categorizes the transaction from its negotiated description plus
// the buyer's dispute reason and returns the evidence types the seller must
// submit.
func (c *KeywordClassifier) Classify(description, reason string) (string, []string) {
	lowered := strings.ToLower(description + " " + reason)
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, kw) {
				return rule.Category, c.requirements[rule.Category]
			}
		}
	}
	return fallbackCategory, c.requirements[fallbackCategory]
}
