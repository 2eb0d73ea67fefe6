package services

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Actor is the caller of a service operation, taken from the session.
type Actor struct {
	UserID  utils.SixID
	IsAdmin bool
}

// Page is a limit/offset window for list operations.
type Page struct {
	Limit  int64 `json:"limit"`
	Offset int64 `json:"offset"`
}

func (p Page) findOptions() *options.FindOptions {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	opts := options.Find().SetLimit(limit)
	if p.Offset > 0 {
		opts.SetSkip(p.Offset)
	}
	return opts
}

// lookupErr turns a driver "no documents" result into apperr.ErrNotFound.
func lookupErr(err error, what string, id utils.SixID) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %s: %w", what, id, apperr.ErrNotFound)
	}
	return fmt.Errorf("error finding %s %s: %w", what, id, err)
}

// validateSpec checks the fields every stored request or project must have.
func validateSpec(spec *models.ProjectSpec) apperr.ValidationErrors {
	var errs apperr.ValidationErrors
	if strings.TrimSpace(spec.Title) == "" {
		errs = append(errs, apperr.Invalid("title", "is required"))
	}
	if !spec.WebsiteType.Valid() {
		errs = append(errs, apperr.Invalid("website_type", "%q is not a known website type", spec.WebsiteType))
	}
	if err := spec.Selection().Validate(); err != nil {
		field := "page_count"
		if errors.Is(err, pricing.ErrUnknownTier) {
			field = "design_tier"
		}
		errs = append(errs, apperr.Invalid(field, "%s", err.Error()))
	}
	if spec.ExampleURLs == nil {
		spec.ExampleURLs = []string{}
	}
	return errs
}
