// Package grounding validates a prospective reply against the assembled
// catalog before emission: factual claims the context cannot back are
// rejected so the agent never invents prices, stock or features.
package grounding

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/conversia-ai/conversia/store"
)

// ClaimKind classifies a factual claim found in a reply.
type ClaimKind string

const (
	ClaimPrice        ClaimKind = "price"
	ClaimAvailability ClaimKind = "availability"
	ClaimFeature      ClaimKind = "feature"
	ClaimExistence    ClaimKind = "existence"
)

// Claim is one factual assertion extracted from a reply sentence.
type Claim struct {
	Kind     ClaimKind
	Sentence string
	// Detail carries the extracted payload: price in cents, availability
	// phrase, feature descriptor, or existence descriptor.
	Detail string
}

// Violation is a claim the context could not verify.
type Violation struct {
	Claim  Claim
	Reason string
}

// Result reports the claims found and the ones that failed verification.
type Result struct {
	Claims     []Claim
	Violations []Violation
}

// OK reports whether the reply may be emitted.
func (r *Result) OK() bool { return len(r.Violations) == 0 }

// catalogItem is the common view the validator checks claims against.
type catalogItem struct {
	name        string
	description string
	priceCents  int64
	stock       int // products only; services use -1 (untracked)
	isService   bool
	metadata    map[string]any
}

// Validator checks replies against one turn's catalog slice.
type Validator struct {
	items []catalogItem
}

// NewValidator captures the catalog visible to the turn.
func NewValidator(products []*store.Product, services []*store.Service) *Validator {
	items := make([]catalogItem, 0, len(products)+len(services))
	for _, p := range products {
		items = append(items, catalogItem{
			name:        p.Name,
			description: p.Description,
			priceCents:  p.PriceCents,
			stock:       p.Stock,
			metadata:    p.Metadata,
		})
	}
	for _, s := range services {
		items = append(items, catalogItem{
			name:        s.Name,
			description: s.Description,
			priceCents:  s.PriceCents,
			stock:       -1,
			isService:   true,
			metadata:    s.Metadata,
		})
	}
	return &Validator{items: items}
}

// Verify extracts the reply's claims and checks each against the catalog.
// A reply with no claims passes trivially.
func (v *Validator) Verify(reply string) *Result {
	result := &Result{}

	for _, sentence := range splitSentences(reply) {
		for _, claim := range extractClaims(sentence) {
			result.Claims = append(result.Claims, claim)
			if reason := v.check(claim); reason != "" {
				result.Violations = append(result.Violations, Violation{Claim: claim, Reason: reason})
			}
		}
	}
	return result
}

var (
	priceClaimRe     = regexp.MustCompile(`(?:[$€£]|USD|EUR|GBP)\s?(\d+(?:[.,]\d{1,2})?)`)
	featureClaimRe   = regexp.MustCompile(`(?i)\b(?:has|have|includes|comes with|features)\s+([^.!?]+)`)
	existenceClaimRe = regexp.MustCompile(`(?i)\bwe\s+(?:have|offer|sell)\s+([^.!?]+)`)
)

// availabilityPhrases are checked in order; the more specific phrases come
// first so "unavailable" is not read as "available".
var availabilityPhrases = []string{"out of stock", "in stock", "unavailable", "available"}

func extractClaims(sentence string) []Claim {
	claims := []Claim{}
	lowered := strings.ToLower(sentence)

	for _, m := range priceClaimRe.FindAllStringSubmatch(sentence, -1) {
		claims = append(claims, Claim{Kind: ClaimPrice, Sentence: sentence, Detail: m[1]})
	}
	for _, phrase := range availabilityPhrases {
		if strings.Contains(lowered, phrase) {
			claims = append(claims, Claim{Kind: ClaimAvailability, Sentence: sentence, Detail: phrase})
			break
		}
	}
	// Existence wins over feature when both verbs match the same clause:
	// "we have blue shirts" is an existence claim, not a feature claim.
	if m := existenceClaimRe.FindStringSubmatch(sentence); m != nil {
		claims = append(claims, Claim{Kind: ClaimExistence, Sentence: sentence, Detail: strings.TrimSpace(m[1])})
	} else if m := featureClaimRe.FindStringSubmatch(sentence); m != nil {
		claims = append(claims, Claim{Kind: ClaimFeature, Sentence: sentence, Detail: strings.TrimSpace(m[1])})
	}

	return claims
}

// check returns an empty string when the claim verifies, otherwise a reason.
func (v *Validator) check(claim Claim) string {
	switch claim.Kind {
	case ClaimPrice:
		return v.checkPrice(claim)
	case ClaimAvailability:
		return v.checkAvailability(claim)
	case ClaimFeature:
		return v.checkFeature(claim)
	case ClaimExistence:
		return v.checkExistence(claim)
	}
	return ""
}

func (v *Validator) checkPrice(claim Claim) string {
	cents, err := parseCents(claim.Detail)
	if err != nil {
		return "unparseable price"
	}
	for _, item := range v.items {
		if !titleReferenced(claim.Sentence, item.name) {
			continue
		}
		// Tolerance of one minor unit.
		if diff := cents - item.priceCents; diff >= -1 && diff <= 1 {
			return ""
		}
	}
	return "price does not match any referenced catalog item"
}

func (v *Validator) checkAvailability(claim Claim) string {
	referenced := false
	for _, item := range v.items {
		if !titleReferenced(claim.Sentence, item.name) {
			continue
		}
		referenced = true
		if availabilityMatches(claim.Detail, item) {
			return ""
		}
	}
	if !referenced {
		// Generic availability talk binds to no item; nothing to contradict.
		return ""
	}
	return "availability contradicts the referenced item's stock"
}

func availabilityMatches(phrase string, item catalogItem) bool {
	inStock := item.isService || item.stock != 0
	switch phrase {
	case "in stock", "available":
		return inStock
	case "out of stock", "unavailable":
		return !inStock
	}
	return false
}

func (v *Validator) checkFeature(claim Claim) string {
	descriptor := strings.ToLower(claim.Detail)
	descriptorWords := significantWords(descriptor)

	for _, item := range v.items {
		if !titleReferenced(claim.Sentence, item.name) {
			continue
		}
		haystack := strings.ToLower(item.description + " " + flattenMetadata(item.metadata))
		if strings.Contains(haystack, descriptor) {
			return ""
		}
		if len(descriptorWords) > 0 && wordOverlap(descriptorWords, haystack)*2 >= len(descriptorWords) {
			return ""
		}
	}
	return "feature is not in the referenced item's description or metadata"
}

func (v *Validator) checkExistence(claim Claim) string {
	if len(v.items) == 0 {
		return "nothing in the catalog backs this"
	}
	for _, item := range v.items {
		if titleReferenced(claim.Detail, item.name) {
			return ""
		}
	}
	// Generic existence ("we offer products") passes as long as the catalog
	// slice is non-empty of the named kind.
	descriptor := strings.ToLower(claim.Detail)
	wantsService := strings.Contains(descriptor, "service") || strings.Contains(descriptor, "appointment") ||
		strings.Contains(descriptor, "booking")
	for _, item := range v.items {
		if item.isService == wantsService {
			return ""
		}
	}
	return "no catalog item of that kind exists"
}

// titleReferenced reports whether text names the item: the full title appears,
// or at least half of its significant words do.
func titleReferenced(text, title string) bool {
	lowered := strings.ToLower(text)
	loweredTitle := strings.ToLower(title)
	if strings.Contains(lowered, loweredTitle) {
		return true
	}
	words := significantWords(loweredTitle)
	if len(words) == 0 {
		return false
	}
	return wordOverlap(words, lowered)*2 >= len(words)
}

func wordOverlap(words []string, haystack string) int {
	hits := 0
	for _, w := range words {
		if strings.Contains(haystack, w) {
			hits++
		}
	}
	return hits
}

func significantWords(s string) []string {
	words := []string{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?:;\"'()")
		if len([]rune(w)) >= 3 {
			words = append(words, w)
		}
	}
	return words
}

func flattenMetadata(md map[string]any) string {
	if len(md) == 0 {
		return ""
	}
	var b strings.Builder
	for k, val := range md {
		b.WriteString(k)
		b.WriteString(" ")
		if s, ok := val.(string); ok {
			b.WriteString(s)
			b.WriteString(" ")
		}
	}
	return b.String()
}

func parseCents(raw string) (int64, error) {
	normalized := strings.ReplaceAll(raw, ",", ".")
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, err
	}
	return int64(v*100 + 0.5), nil
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+\s+`)

func splitSentences(text string) []string {
	parts := sentenceEndRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
