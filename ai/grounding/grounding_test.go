package grounding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/store"
)

func testValidator() *Validator {
	return NewValidator(
		[]*store.Product{
			{
				Name:        "Blue Shirt",
				Description: "Soft cotton blend fabric with a slim fit.",
				PriceCents:  2999,
				Currency:    "USD",
				Stock:       4,
				Metadata:    map[string]any{"material": "cotton"},
			},
			{
				Name:       "Red Hat",
				PriceCents: 1500,
				Currency:   "USD",
				Stock:      0,
			},
		},
		[]*store.Service{
			{Name: "Tailoring", Description: "Hem and fit adjustments.", PriceCents: 5000, Currency: "USD"},
		},
	)
}

func TestNoClaimsPassTrivially(t *testing.T) {
	res := testValidator().Verify("Happy to help! Let me know if you need anything else.")
	assert.True(t, res.OK())
	assert.Empty(t, res.Claims)
}

func TestPriceClaims(t *testing.T) {
	v := testValidator()

	tests := []struct {
		name  string
		reply string
		ok    bool
	}{
		{"exact price", "The Blue Shirt costs $29.99.", true},
		{"within one cent", "The Blue Shirt costs $29.98.", true},
		{"wrong price", "The Blue Shirt costs $19.99.", false},
		{"price with no referenced item", "That one costs $42.00.", false},
		{"half title words reference", "The shirt in blue is $29.99.", true},
		{"service price", "Tailoring is $50.00.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Verify(tt.reply)
			require.NotEmpty(t, res.Claims)
			assert.Equal(t, tt.ok, res.OK())
		})
	}
}

func TestAvailabilityClaims(t *testing.T) {
	v := testValidator()

	tests := []struct {
		name  string
		reply string
		ok    bool
	}{
		{"in stock matches", "The Blue Shirt is in stock!", true},
		{"out of stock matches", "The Red Hat is out of stock right now.", true},
		{"in stock contradiction", "The Red Hat is in stock.", false},
		{"unavailable contradiction", "The Blue Shirt is unavailable.", false},
		{"generic availability binds nothing", "Plenty of options are available.", true},
		{"services are always bookable", "Tailoring is available this week.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Verify(tt.reply)
			assert.Equal(t, tt.ok, res.OK())
		})
	}
}

func TestFeatureClaims(t *testing.T) {
	v := testValidator()

	tests := []struct {
		name  string
		reply string
		ok    bool
	}{
		{"descriptor in description", "The Blue Shirt has a slim fit.", true},
		{"descriptor in metadata", "The Blue Shirt features cotton material.", true},
		{"invented feature", "The Blue Shirt comes with a lifetime warranty.", false},
		{"word overlap passes", "The Blue Shirt includes soft fabric construction.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Verify(tt.reply)
			require.NotEmpty(t, res.Claims)
			assert.Equal(t, tt.ok, res.OK())
		})
	}
}

func TestExistenceClaims(t *testing.T) {
	v := testValidator()

	tests := []struct {
		name  string
		reply string
		ok    bool
	}{
		{"named item exists", "We sell the Blue Shirt in several sizes.", true},
		{"generic products pass when catalog has products", "We offer a range of quality items.", true},
		{"generic services pass when services exist", "We offer services like alterations.", true},
		{"named unknown item still passes generically", "We sell green scarves.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Verify(tt.reply)
			require.NotEmpty(t, res.Claims)
			assert.Equal(t, tt.ok, res.OK())
		})
	}
}

func TestExistenceEmptyCatalog(t *testing.T) {
	v := NewValidator(nil, nil)
	res := v.Verify("We sell premium shirts.")
	assert.False(t, res.OK())
}

func TestExistenceServicesOnlyKindMismatch(t *testing.T) {
	v := NewValidator(nil, []*store.Service{{Name: "Haircut"}})
	// "services" names the service kind; passes.
	assert.True(t, v.Verify("We offer grooming services.").OK())
	// Generic product talk with no products fails the kind check.
	assert.False(t, v.Verify("We sell many items.").OK())
}

func TestViolationCarriesReason(t *testing.T) {
	res := testValidator().Verify("The Blue Shirt costs $19.99.")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, ClaimPrice, res.Violations[0].Claim.Kind)
	assert.NotEmpty(t, res.Violations[0].Reason)
}
