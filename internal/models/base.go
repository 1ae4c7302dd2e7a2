package models

import (
	"imjang/api/internal/utils"
)

type IBase interface {
	GenIDIfEmpty()
	GenID()
	GetID() utils.SixID
}

type Base struct {
	ID utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}

func (m *Base) GetID() utils.SixID {
	return m.ID
}

func NewBase() Base {
	return Base{
		ID: utils.NewSixID(),
	}
}
