package wizard

import (
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/pricing"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// Snapshot is the serialisable form of a Wizard. It is also what the API
// returns to clients after every wizard call.
type Snapshot struct {
	Step      Step               `json:"step"`
	StepName  string             `json:"step_name"`
	Spec      models.ProjectSpec `json:"spec"`
	Contact   models.Contact     `json:"contact"`
	Locked    []string           `json:"locked_fields"`
	UserID    *utils.SixID       `json:"user_id,omitempty"`
	Quote     pricing.Quote      `json:"quote"`
	RequestID *utils.SixID       `json:"request_id,omitempty"`
}

var lockNames = []struct {
	name string
	flag lockSet
}{
	{"name", lockName},
	{"email", lockEmail},
	{"phone", lockPhone},
	{"company", lockCompany},
}

func (w *Wizard) Snapshot() Snapshot {
	spec := w.spec
	spec.ExampleURLs = append([]string{}, w.spec.ExampleURLs...)
	locked := []string{}
	for _, l := range lockNames {
		if w.locked&l.flag != 0 {
			locked = append(locked, l.name)
		}
	}
	return Snapshot{
		Step:      w.step,
		StepName:  w.step.String(),
		Spec:      spec,
		Contact:   w.contact,
		Locked:    locked,
		UserID:    w.userID,
		Quote:     w.quote,
		RequestID: w.requestID,
	}
}

// Restore rebuilds a wizard from a snapshot. The quote is recomputed rather
// than trusted.
func Restore(s Snapshot) *Wizard {
	w := &Wizard{
		step:      s.Step,
		spec:      s.Spec,
		contact:   s.Contact,
		userID:    s.UserID,
		requestID: s.RequestID,
	}
	if w.step < StepProjectDetails || w.step > StepSubmitted {
		w.step = StepProjectDetails
	}
	if w.spec.ExampleURLs == nil {
		w.spec.ExampleURLs = []string{}
	}
	for _, name := range s.Locked {
		for _, l := range lockNames {
			if l.name == name {
				w.locked |= l.flag
			}
		}
	}
	w.reprice()
	return w
}
