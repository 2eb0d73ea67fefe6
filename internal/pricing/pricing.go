// Package pricing computes project quotes from a feature selection.
//
// All amounts are whole currency units. The one-time total never includes the
// maintenance plan; maintenance is billed monthly and quoted on its own.
package pricing

import (
	"errors"
	"fmt"
	"strings"
)

// Amount is a non-negative number of whole currency units.
type Amount int64

// Tier is the design complexity bracket.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

const (
	Base             Amount = 1500
	PageRate         Amount = 150
	CMSPrice         Amount = 800
	EcommercePrice   Amount = 1500
	SEOPrice         Amount = 600
	MaintenanceMonth Amount = 200

	MinPages = 1
	MaxPages = 20
)

var tierSurcharge = map[Tier]Amount{
	TierSimple:   0,
	TierStandard: 500,
	TierPremium:  1200,
}

// Tiers lists the known tiers from cheapest to most expensive.
var Tiers = []Tier{TierSimple, TierStandard, TierPremium}

var ErrUnknownTier = errors.New("unknown design tier")

// ParseTier is the strict counterpart of the lenient surcharge lookup used by ComputePrice.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierSurcharge[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Surcharge returns the tier's surcharge, zero for an unknown tier.
func (t Tier) Surcharge() Amount {
	return tierSurcharge[t]
}

// ComputePrice returns the one-time project price.
// hasMaintenance is accepted for symmetry with the feature flags but never changes the result.
func ComputePrice(pageCount int, tier Tier, hasCMS, hasEcommerce, hasSEO, hasMaintenance bool) Amount {
	if pageCount < 0 {
		pageCount = 0
	}
	price := Base + PageRate*Amount(pageCount) + tier.Surcharge()
	if hasCMS {
		price += CMSPrice
	}
	if hasEcommerce {
		price += EcommercePrice
	}
	if hasSEO {
		price += SEOPrice
	}
	return price
}

// MonthlyPrice is the recurring maintenance add-on.
func MonthlyPrice(hasMaintenance bool) Amount {
	if hasMaintenance {
		return MaintenanceMonth
	}
	return 0
}

// Selection is the set of inputs a quote depends on.
type Selection struct {
	PageCount      int  `json:"page_count"`
	Tier           Tier `json:"design_tier"`
	HasCMS         bool `json:"has_cms"`
	HasEcommerce   bool `json:"has_ecommerce"`
	HasSEO         bool `json:"has_seo"`
	HasMaintenance bool `json:"has_maintenance"`
}

// LineItem is one row of an itemised quote.
type LineItem struct {
	Key     string `json:"key"`
	Amount  Amount `json:"amount"`
	Monthly bool   `json:"monthly,omitempty"`
}

// Quote is what clients display next to the form.
type Quote struct {
	OneTime   Amount     `json:"one_time"`
	Monthly   Amount     `json:"monthly"`
	Breakdown []LineItem `json:"breakdown"`
}

// QuoteFor itemises a selection. OneTime always equals ComputePrice for the same inputs.
func QuoteFor(s Selection) Quote {
	pages := s.PageCount
	if pages < 0 {
		pages = 0
	}
	items := []LineItem{
		{Key: "base", Amount: Base},
		{Key: "pages", Amount: PageRate * Amount(pages)},
	}
	if sc := s.Tier.Surcharge(); sc > 0 {
		items = append(items, LineItem{Key: "tier_" + string(s.Tier), Amount: sc})
	}
	if s.HasCMS {
		items = append(items, LineItem{Key: "cms", Amount: CMSPrice})
	}
	if s.HasEcommerce {
		items = append(items, LineItem{Key: "ecommerce", Amount: EcommercePrice})
	}
	if s.HasSEO {
		items = append(items, LineItem{Key: "seo", Amount: SEOPrice})
	}
	if s.HasMaintenance {
		items = append(items, LineItem{Key: "maintenance", Amount: MaintenanceMonth, Monthly: true})
	}
	return Quote{
		OneTime:   ComputePrice(s.PageCount, s.Tier, s.HasCMS, s.HasEcommerce, s.HasSEO, s.HasMaintenance),
		Monthly:   MonthlyPrice(s.HasMaintenance),
		Breakdown: items,
	}
}

// Validate checks a selection the way input boundaries must: pages in range, known tier.
func (s Selection) Validate() error {
	if s.PageCount < MinPages || s.PageCount > MaxPages {
		return fmt.Errorf("page count must be between %d and %d", MinPages, MaxPages)
	}
	if _, err := ParseTier(string(s.Tier)); err != nil {
		return err
	}
	return nil
}

// PriceTable is the public view of the constants.
type PriceTable struct {
	Base             Amount          `json:"base"`
	PageRate         Amount          `json:"page_rate"`
	MinPages         int             `json:"min_pages"`
	MaxPages         int             `json:"max_pages"`
	TierSurcharges   map[Tier]Amount `json:"tier_surcharges"`
	CMS              Amount          `json:"cms"`
	Ecommerce        Amount          `json:"ecommerce"`
	SEO              Amount          `json:"seo"`
	MaintenanceMonth Amount          `json:"maintenance_monthly"`
}

func Table() PriceTable {
	surcharges := make(map[Tier]Amount, len(tierSurcharge))
	for k, v := range tierSurcharge {
		surcharges[k] = v
	}
	return PriceTable{
		Base:             Base,
		PageRate:         PageRate,
		MinPages:         MinPages,
		MaxPages:         MaxPages,
		TierSurcharges:   surcharges,
		CMS:              CMSPrice,
		Ecommerce:        EcommercePrice,
		SEO:              SEOPrice,
		MaintenanceMonth: MaintenanceMonth,
	}
}
