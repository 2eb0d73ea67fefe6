package models

import (
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
)

// WebsiteType is the requested kind of site.
type WebsiteType string

const (
	WebsitePresentation WebsiteType = "presentation"
	WebsiteEcommerce    WebsiteType = "ecommerce"
	WebsiteBlog         WebsiteType = "blog"
	WebsitePortfolio    WebsiteType = "portfolio"
	WebsiteApplication  WebsiteType = "application"
)

var WebsiteTypes = []WebsiteType{WebsitePresentation, WebsiteEcommerce, WebsiteBlog, WebsitePortfolio, WebsiteApplication}

func (w WebsiteType) Valid() bool {
	for _, t := range WebsiteTypes {
		if t == w {
			return true
		}
	}
	return false
}

// ProjectSpec holds the feature and pricing fields that requests and projects
// have in common. A transition copies it verbatim.
type ProjectSpec struct {
	Title          string         `bson:"title" json:"title"`
	Description    string         `bson:"description" json:"description"`
	WebsiteType    WebsiteType    `bson:"website_type" json:"website_type"`
	PageCount      int            `bson:"page_count" json:"page_count"`
	DesignTier     pricing.Tier   `bson:"design_tier" json:"design_tier"`
	HasCMS         bool           `bson:"has_cms" json:"has_cms"`
	HasEcommerce   bool           `bson:"has_ecommerce" json:"has_ecommerce"`
	HasSEO         bool           `bson:"has_seo" json:"has_seo"`
	HasMaintenance bool           `bson:"has_maintenance" json:"has_maintenance"`
	Price          pricing.Amount `bson:"price" json:"price"`
	MonthlyPrice   pricing.Amount `bson:"monthly_price" json:"monthly_price"`
	ExampleURLs    []string       `bson:"example_urls" json:"example_urls"`
	AdditionalInfo string         `bson:"additional_info" json:"additional_info"`
}

func (s *ProjectSpec) Selection() pricing.Selection {
	return pricing.Selection{
		PageCount:      s.PageCount,
		Tier:           s.DesignTier,
		HasCMS:         s.HasCMS,
		HasEcommerce:   s.HasEcommerce,
		HasSEO:         s.HasSEO,
		HasMaintenance: s.HasMaintenance,
	}
}

// Reprice recomputes both price fields from the feature selection.
func (s *ProjectSpec) Reprice() {
	q := pricing.QuoteFor(s.Selection())
	s.Price = q.OneTime
	s.MonthlyPrice = q.Monthly
}

// Contact is who to reach about a request. For signed-in clients it mirrors the profile.
type Contact struct {
	Name    string `bson:"name" json:"name"`
	Email   string `bson:"email" json:"email"`
	Phone   string `bson:"phone,omitempty" json:"phone,omitempty"`
	Company string `bson:"company,omitempty" json:"company,omitempty"`
}
