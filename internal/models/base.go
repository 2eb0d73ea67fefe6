package models

import (
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// Base carries the record identifier. Every persisted record embeds it inline.
type Base struct {
	ID utils.SixID `bson:"_id" json:"id"`
}

// GenIDIfEmpty assigns a fresh identifier unless one is already set, which is
// how a project keeps the id of the request it came from.
func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}
