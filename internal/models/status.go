package models

// Status is shared by requests and projects. Requests start in the intake
// statuses; anything past intake only exists on projects.
type Status string

const (
	StatusNew        Status = "new"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// IsIntake reports whether s keeps a record in the request set.
func (s Status) IsIntake() bool {
	return s == StatusNew || s == StatusPending
}

func (s Status) ValidForRequest() bool {
	switch s {
	case StatusNew, StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) ValidForProject() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is derived from the amount paid against the project price.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)
