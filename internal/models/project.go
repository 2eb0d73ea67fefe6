package models

import (
	"time"

	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// ModificationRequest is a change a client asks for on an active project.
type ModificationRequest struct {
	ID          utils.SixID `bson:"id" json:"id"`
	Description string      `bson:"description" json:"description"`
	Status      string      `bson:"status" json:"status"` // open, done
	CreatedAt   time.Time   `bson:"created_at" json:"created_at"`
}

// Project is an accepted engagement.
type Project struct {
	Base                 `bson:",inline"`
	ProjectSpec          `bson:",inline"`
	UserID               *utils.SixID          `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Contact              Contact               `bson:"contact" json:"contact"`
	Status               Status                `bson:"status" json:"status"`
	PaymentStatus        PaymentStatus         `bson:"payment_status" json:"payment_status"`
	AmountPaid           pricing.Amount        `bson:"amount_paid" json:"amount_paid"`
	DueDate              *time.Time            `bson:"due_date,omitempty" json:"due_date,omitempty"`
	RequestID            *utils.SixID          `bson:"request_id,omitempty" json:"request_id,omitempty"` // set when created from a request
	ModificationRequests []ModificationRequest `bson:"modification_requests" json:"modification_requests"`
	OverdueNotified      bool                  `bson:"overdue_notified" json:"-"`
	CreatedAt            time.Time             `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time             `bson:"updated_at" json:"updated_at"`
}

// NewProjectFromRequest copies every feature and pricing field of r into a
// project with the same id.
func NewProjectFromRequest(r *ProjectRequest, status Status, now time.Time) *Project {
	spec := r.ProjectSpec
	spec.ExampleURLs = append([]string(nil), r.ExampleURLs...)
	requestID := r.ID
	return &Project{
		Base:                 Base{ID: r.ID},
		ProjectSpec:          spec,
		UserID:               r.UserID,
		Contact:              r.Contact,
		Status:               status,
		PaymentStatus:        PaymentUnpaid,
		RequestID:            &requestID,
		ModificationRequests: []ModificationRequest{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func (p *Project) OwnedBy(userID utils.SixID) bool {
	return p.UserID != nil && *p.UserID == userID
}

// Outstanding is what is left to pay on the one-time price.
func (p *Project) Outstanding() pricing.Amount {
	if p.AmountPaid >= p.Price {
		return 0
	}
	return p.Price - p.AmountPaid
}

// DerivePaymentStatus maps paid against price.
func DerivePaymentStatus(price, paid pricing.Amount) PaymentStatus {
	switch {
	case paid <= 0:
		return PaymentUnpaid
	case paid < price:
		return PaymentPartial
	default:
		return PaymentPaid
	}
}
