// Package intent extracts prioritized customer intents from a logical turn.
// Detection runs on the cheap model with a strict JSON schema; names outside
// the recognized vocabulary collapse to OTHER.
package intent

import "sort"

// Category groups intents for prioritization. Urgent outranks transactional
// outranks informational outranks support outranks browsing.
type Category string

const (
	CategoryUrgent        Category = "urgent"
	CategoryTransactional Category = "transactional"
	CategoryInformational Category = "informational"
	CategorySupport       Category = "support"
	CategoryBrowsing      Category = "browsing"
)

var categoryBase = map[Category]int{
	CategoryUrgent:        100,
	CategoryTransactional: 80,
	CategoryInformational: 60,
	CategorySupport:       50,
	CategoryBrowsing:      40,
}

// The closed intent vocabulary and each name's category.
var vocabulary = map[string]Category{
	"GREETING":               CategorySupport,
	"BROWSE_PRODUCTS":        CategoryBrowsing,
	"PRODUCT_DETAILS":        CategoryInformational,
	"PRICE_CHECK":            CategoryInformational,
	"STOCK_CHECK":            CategoryInformational,
	"ADD_TO_CART":            CategoryTransactional,
	"CHECKOUT_LINK":          CategoryTransactional,
	"BROWSE_SERVICES":        CategoryBrowsing,
	"SERVICE_DETAILS":        CategoryInformational,
	"CHECK_AVAILABILITY":     CategoryInformational,
	"BOOK_APPOINTMENT":       CategoryTransactional,
	"RESCHEDULE_APPOINTMENT": CategoryTransactional,
	"CANCEL_APPOINTMENT":     CategoryTransactional,
	"OPT_IN_PROMOTIONS":      CategoryTransactional,
	"OPT_OUT_PROMOTIONS":     CategoryTransactional,
	"STOP_ALL":               CategoryUrgent,
	"START_ALL":              CategoryTransactional,
	"HUMAN_HANDOFF":          CategoryUrgent,
	"OTHER":                  CategorySupport,
}

// Intent is one detected customer goal.
type Intent struct {
	Name       string            `json:"name"`
	Confidence float64           `json:"confidence"`
	Slots      map[string]string `json:"slots,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`

	Category Category `json:"category"`
	Priority int      `json:"priority"`
}

// Normalize maps unknown names to OTHER, clamps confidence, assigns the
// category and computes priority = category base + floor(confidence*20).
func Normalize(in Intent) Intent {
	category, ok := vocabulary[in.Name]
	if !ok {
		in.Name = "OTHER"
		category = CategorySupport
	}
	if in.Confidence < 0 {
		in.Confidence = 0
	}
	if in.Confidence > 1 {
		in.Confidence = 1
	}
	in.Category = category
	in.Priority = categoryBase[category] + int(in.Confidence*20)
	return in
}

// Prioritize normalizes every intent and sorts descending by (priority,
// confidence). Stable so equal intents keep detection order.
func Prioritize(intents []Intent) []Intent {
	out := make([]Intent, len(intents))
	for i, in := range intents {
		out[i] = Normalize(in)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Names lists the vocabulary in a stable order for the detection prompt.
func Names() []string {
	names := make([]string, 0, len(vocabulary))
	for name := range vocabulary {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
