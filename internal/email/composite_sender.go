package email

import (
	"context"
	"errors"
	"fmt"
)

// CompositeEmailSender hands every message to all of its senders.
type CompositeEmailSender struct {
	senders []Sender
}

func NewCompositeEmailSender(senders ...Sender) *CompositeEmailSender {
	cs := &CompositeEmailSender{}
	for _, s := range senders {
		cs.AddSender(s)
	}
	return cs
}

func (cs *CompositeEmailSender) AddSender(sender Sender) {
	if sender != nil {
		cs.senders = append(cs.senders, sender)
	}
}

// Send tries every sender and joins their errors.
func (cs *CompositeEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if len(cs.senders) == 0 {
		return errors.New("no senders configured in CompositeEmailSender")
	}
	var errs []error
	for _, sender := range cs.senders {
		if err := sender.Send(ctx, to, subject, rawMessage); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("composite email send failed: %w", err)
	}
	return nil
}
