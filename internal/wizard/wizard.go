// Package wizard implements the multi-step project request form.
//
// A Wizard is a plain value owned by one caller. It validates each step before
// letting the caller move forward, keeps a live quote, and hands a finished
// request to a Submitter. Nothing is persisted before Submit.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

type Step int

const (
	StepProjectDetails Step = iota + 1
	StepFeatures
	StepAdditionalInfo
	StepContactInfo
	StepSubmitted
)

var stepNames = map[Step]string{
	StepProjectDetails: "project_details",
	StepFeatures:       "features",
	StepAdditionalInfo: "additional_info",
	StepContactInfo:    "contact_info",
	StepSubmitted:      "submitted",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return fmt.Sprintf("step(%d)", int(s))
}

const (
	maxExampleURLs     = 10
	maxTextLength      = 5000
	defaultPageCount   = 5
	defaultDesignTier  = pricing.TierStandard
	defaultWebsiteType = models.WebsitePresentation
)

var (
	ErrFirstStep   = errors.New("already at the first step")
	ErrLastStep    = errors.New("already at the last step, submit instead")
	ErrNotLastStep = errors.New("the request can only be submitted from the contact step")
	ErrSubmitted   = errors.New("the request has already been submitted")
)

// Submitter persists a finished request. It must assign the request id.
type Submitter interface {
	CreateRequest(ctx context.Context, req *models.ProjectRequest) error
}

// Identity field flags, used to mark which contact fields came from a session.
type lockSet uint8

const (
	lockName lockSet = 1 << iota
	lockEmail
	lockPhone
	lockCompany
)

// Prefill seeds a new wizard. Identity is the signed-in user's profile; the
// non-empty fields it carries become read-only.
type Prefill struct {
	Title          string
	Description    string
	WebsiteType    string
	PageCount      int
	DesignTier     string
	HasCMS         bool
	HasEcommerce   bool
	HasSEO         bool
	HasMaintenance bool
	Contact        models.Contact
	Identity       *models.Contact
	UserID         *utils.SixID
}

// Wizard holds the form state. It is not safe for concurrent use.
type Wizard struct {
	step      Step
	spec      models.ProjectSpec
	contact   models.Contact
	userID    *utils.SixID
	locked    lockSet
	quote     pricing.Quote
	requestID *utils.SixID
}

// New starts a wizard at the first step.
func New(p Prefill) *Wizard {
	w := &Wizard{
		step: StepProjectDetails,
		spec: models.ProjectSpec{
			Title:          strings.TrimSpace(p.Title),
			Description:    strings.TrimSpace(p.Description),
			WebsiteType:    models.WebsiteType(strings.ToLower(strings.TrimSpace(p.WebsiteType))),
			PageCount:      p.PageCount,
			DesignTier:     pricing.Tier(strings.ToLower(strings.TrimSpace(p.DesignTier))),
			HasCMS:         p.HasCMS,
			HasEcommerce:   p.HasEcommerce,
			HasSEO:         p.HasSEO,
			HasMaintenance: p.HasMaintenance,
			ExampleURLs:    []string{},
		},
		contact: p.Contact,
		userID:  p.UserID,
	}
	if w.spec.WebsiteType == "" {
		w.spec.WebsiteType = defaultWebsiteType
	}
	if w.spec.PageCount == 0 {
		w.spec.PageCount = defaultPageCount
	}
	if w.spec.DesignTier == "" {
		w.spec.DesignTier = defaultDesignTier
	}
	if id := p.Identity; id != nil {
		w.lockField(&w.contact.Name, id.Name, lockName)
		w.lockField(&w.contact.Email, id.Email, lockEmail)
		w.lockField(&w.contact.Phone, id.Phone, lockPhone)
		w.lockField(&w.contact.Company, id.Company, lockCompany)
	}
	w.reprice()
	return w
}

func (w *Wizard) lockField(dst *string, value string, flag lockSet) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
		w.locked |= flag
	}
}

func (w *Wizard) Step() Step               { return w.step }
func (w *Wizard) Spec() models.ProjectSpec { return w.spec }
func (w *Wizard) Contact() models.Contact  { return w.contact }
func (w *Wizard) Quote() pricing.Quote     { return w.quote }
func (w *Wizard) Submitted() bool          { return w.step == StepSubmitted }
func (w *Wizard) UserID() *utils.SixID     { return w.userID }
func (w *Wizard) RequestID() *utils.SixID  { return w.requestID }

// IdentityLocked reports whether a contact field was filled from the session.
func (w *Wizard) IdentityLocked(field string) bool {
	switch field {
	case "name":
		return w.locked&lockName != 0
	case "email":
		return w.locked&lockEmail != 0
	case "phone":
		return w.locked&lockPhone != 0
	case "company":
		return w.locked&lockCompany != 0
	}
	return false
}

func (w *Wizard) reprice() {
	w.quote = pricing.QuoteFor(w.spec.Selection())
	w.spec.Price = w.quote.OneTime
	w.spec.MonthlyPrice = w.quote.Monthly
}

// Patch carries field edits. Nil fields are left alone.
type Patch struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	WebsiteType    *string `json:"website_type,omitempty"`
	PageCount      *int    `json:"page_count,omitempty"`
	DesignTier     *string `json:"design_tier,omitempty"`
	HasCMS         *bool   `json:"has_cms,omitempty"`
	HasEcommerce   *bool   `json:"has_ecommerce,omitempty"`
	HasSEO         *bool   `json:"has_seo,omitempty"`
	HasMaintenance *bool   `json:"has_maintenance,omitempty"`
	AdditionalInfo *string `json:"additional_info,omitempty"`
	Name           *string `json:"name,omitempty"`
	Email          *string `json:"email,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Company        *string `json:"company,omitempty"`
}

// Apply edits any field regardless of the current step. Range and enum checks
// happen when the owning step is left, so a half-typed value is accepted here.
// Writes to read-only identity fields reject the whole patch.
func (w *Wizard) Apply(p Patch) error {
	if w.Submitted() {
		return ErrSubmitted
	}
	var errs apperr.ValidationErrors
	checkLocked := func(v *string, current, field string, flag lockSet) {
		if v != nil && w.locked&flag != 0 && strings.TrimSpace(*v) != current {
			errs = append(errs, apperr.Invalid(field, "is taken from your account and cannot be changed here"))
		}
	}
	checkLocked(p.Name, w.contact.Name, "name", lockName)
	checkLocked(p.Email, w.contact.Email, "email", lockEmail)
	checkLocked(p.Phone, w.contact.Phone, "phone", lockPhone)
	checkLocked(p.Company, w.contact.Company, "company", lockCompany)
	checkLength := func(v *string, field string) {
		if v != nil && len(*v) > maxTextLength {
			errs = append(errs, apperr.Invalid(field, "must be at most %d characters", maxTextLength))
		}
	}
	checkLength(p.Title, "title")
	checkLength(p.Description, "description")
	checkLength(p.AdditionalInfo, "additional_info")
	if err := errs.Err(); err != nil {
		return err
	}

	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&w.spec.Title, p.Title)
	setString(&w.spec.Description, p.Description)
	if p.WebsiteType != nil {
		w.spec.WebsiteType = models.WebsiteType(strings.ToLower(strings.TrimSpace(*p.WebsiteType)))
	}
	if p.PageCount != nil {
		w.spec.PageCount = *p.PageCount
	}
	if p.DesignTier != nil {
		w.spec.DesignTier = pricing.Tier(strings.ToLower(strings.TrimSpace(*p.DesignTier)))
	}
	setBool(&w.spec.HasCMS, p.HasCMS)
	setBool(&w.spec.HasEcommerce, p.HasEcommerce)
	setBool(&w.spec.HasSEO, p.HasSEO)
	setBool(&w.spec.HasMaintenance, p.HasMaintenance)
	setString(&w.spec.AdditionalInfo, p.AdditionalInfo)
	setString(&w.contact.Name, p.Name)
	setString(&w.contact.Email, p.Email)
	setString(&w.contact.Phone, p.Phone)
	setString(&w.contact.Company, p.Company)
	w.reprice()
	return nil
}

func (w *Wizard) SetTitle(s string) error       { return w.Apply(Patch{Title: &s}) }
func (w *Wizard) SetDescription(s string) error { return w.Apply(Patch{Description: &s}) }
func (w *Wizard) SetPageCount(n int) error      { return w.Apply(Patch{PageCount: &n}) }
func (w *Wizard) SetDesignTier(s string) error  { return w.Apply(Patch{DesignTier: &s}) }
func (w *Wizard) SetWebsiteType(s string) error { return w.Apply(Patch{WebsiteType: &s}) }

// SetFeatures replaces all four feature flags.
func (w *Wizard) SetFeatures(cms, ecommerce, seo, maintenance bool) error {
	return w.Apply(Patch{HasCMS: &cms, HasEcommerce: &ecommerce, HasSEO: &seo, HasMaintenance: &maintenance})
}

func (w *Wizard) SetContact(c models.Contact) error {
	return w.Apply(Patch{Name: &c.Name, Email: &c.Email, Phone: &c.Phone, Company: &c.Company})
}

// AddURL normalises raw to an absolute http(s) URL and appends it.
// A missing scheme becomes https.
func (w *Wizard) AddURL(raw string) (string, error) {
	if w.Submitted() {
		return "", ErrSubmitted
	}
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	for _, existing := range w.spec.ExampleURLs {
		if existing == normalized {
			return "", apperr.Invalid("example_urls", "%s is already in the list", normalized)
		}
	}
	if len(w.spec.ExampleURLs) >= maxExampleURLs {
		return "", apperr.Invalid("example_urls", "at most %d example sites can be added", maxExampleURLs)
	}
	w.spec.ExampleURLs = append(w.spec.ExampleURLs, normalized)
	return normalized, nil
}

// RemoveURL drops the URL at index i.
func (w *Wizard) RemoveURL(i int) error {
	if w.Submitted() {
		return ErrSubmitted
	}
	if i < 0 || i >= len(w.spec.ExampleURLs) {
		return apperr.Invalid("example_urls", "no example site at position %d", i)
	}
	urls := make([]string, 0, len(w.spec.ExampleURLs)-1)
	urls = append(urls, w.spec.ExampleURLs[:i]...)
	w.spec.ExampleURLs = append(urls, w.spec.ExampleURLs[i+1:]...)
	return nil
}

// NormalizeURL trims raw, prefixes https:// when no scheme is present and
// requires an absolute http or https URL with a host.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.Invalid("example_urls", "URL is empty")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || strings.ContainsAny(u.Host, " \t") {
		return "", apperr.Invalid("example_urls", "%q is not a valid web address", raw)
	}
	return u.String(), nil
}

// Next validates the current step and advances by one.
func (w *Wizard) Next() error {
	switch w.step {
	case StepSubmitted:
		return ErrSubmitted
	case StepContactInfo:
		return ErrLastStep
	}
	if err := w.validateStep(w.step); err != nil {
		return err
	}
	w.step++
	return nil
}

// Previous goes back one step without validating anything.
func (w *Wizard) Previous() error {
	switch w.step {
	case StepSubmitted:
		return ErrSubmitted
	case StepProjectDetails:
		return ErrFirstStep
	}
	w.step--
	return nil
}

func (w *Wizard) validateStep(s Step) error {
	var errs apperr.ValidationErrors
	switch s {
	case StepProjectDetails:
		if w.spec.Title == "" {
			errs = append(errs, apperr.Invalid("title", "is required"))
		}
		if w.spec.Description == "" {
			errs = append(errs, apperr.Invalid("description", "is required"))
		}
		if !w.spec.WebsiteType.Valid() {
			errs = append(errs, apperr.Invalid("website_type", "%q is not a known website type", w.spec.WebsiteType))
		}
	case StepFeatures:
		if w.spec.PageCount < pricing.MinPages || w.spec.PageCount > pricing.MaxPages {
			errs = append(errs, apperr.Invalid("page_count", "must be between %d and %d", pricing.MinPages, pricing.MaxPages))
		}
		if _, err := pricing.ParseTier(string(w.spec.DesignTier)); err != nil {
			errs = append(errs, apperr.Invalid("design_tier", "%q is not a known design tier", w.spec.DesignTier))
		}
	case StepContactInfo:
		if w.contact.Name == "" {
			errs = append(errs, apperr.Invalid("name", "is required"))
		}
		if w.contact.Email == "" {
			errs = append(errs, apperr.Invalid("email", "is required"))
		} else if !models.ValidEmail(models.NormalizeEmail(w.contact.Email)) {
			errs = append(errs, apperr.Invalid("email", "is not a valid email address"))
		}
	}
	return errs.Err()
}

// Submit persists the request through s. Only allowed from the contact step.
// Every step is validated again because fields can be edited from any step.
// On any failure, including ctx being cancelled, the wizard is left exactly
// as it was and Submit may be called again.
func (w *Wizard) Submit(ctx context.Context, s Submitter) (*models.ProjectRequest, error) {
	switch w.step {
	case StepSubmitted:
		return nil, ErrSubmitted
	case StepContactInfo:
	default:
		return nil, ErrNotLastStep
	}
	var errs apperr.ValidationErrors
	for step := StepProjectDetails; step <= StepContactInfo; step++ {
		if err := w.validateStep(step); err != nil {
			var list apperr.ValidationErrors
			if errors.As(err, &list) {
				errs = append(errs, list...)
			}
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := w.buildRequest()
	if err := s.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	id := req.ID
	w.requestID = &id
	w.step = StepSubmitted
	return req, nil
}

func (w *Wizard) buildRequest() *models.ProjectRequest {
	spec := w.spec
	spec.ExampleURLs = append([]string{}, w.spec.ExampleURLs...)
	spec.Reprice()
	var userID *utils.SixID
	if w.userID != nil {
		id := *w.userID
		userID = &id
	}
	return &models.ProjectRequest{
		ProjectSpec: spec,
		UserID:      userID,
		Contact:     w.contact,
		Status:      models.StatusNew,
	}
}
