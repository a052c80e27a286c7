// Package audit persists an append-only trail of strategy lifecycle
// transitions. Entries are never updated or deleted; the trail is what an
// operator reads after a TERMINAL_WITH_RESIDUE outcome to reconstruct what
// the engine did and when.
package audit

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Entry struct {
	gorm.Model `json:"-"`
	InstanceID string    `gorm:"index" json:"instance_id"`
	Kind       string    `json:"kind"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Transition records one state change. Persistence failures are logged and
// swallowed: the audit trail must never stall the engine loop.
func (r *Recorder) Transition(instanceID, kind, from, to, detail string) {
	entry := Entry{
		InstanceID: instanceID,
		Kind:       kind,
		FromState:  from,
		ToState:    to,
		Detail:     detail,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		log.Error().
			Err(err).
			Str("instance_id", instanceID).
			Str("to_state", to).
			Msg("failed to persist audit entry")
	}
}

// Trail returns every entry for an instance in chronological order.
func (r *Recorder) Trail(instanceID string) ([]Entry, error) {
	var entries []Entry
	if err := r.db.Where("instance_id = ?", instanceID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
