// Package domain contains meeting entities without behavior, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// ParticipantID is an opaque unique token identifying one room member.
type ParticipantID string

type Participant struct {
	ID   ParticipantID `json:"id"`
	Name string        `json:"name"`
}

// NewParticipant mints a fresh identity; keeps ad-hoc struct literals out of adapters.
func NewParticipant(name string) (Participant, error) {
	if len(name) == 0 {
		return Participant{}, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return Participant{}, ErrDisplayNameTooLong
	}
	return Participant{ID: ParticipantID(uuid.NewString()), Name: name}, nil
}
