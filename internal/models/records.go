package models

import "time"

// CachedResolution is the page-scoped record that lets a reload skip decryption
type CachedResolution struct {
	Token    string    `json:"token"`
	Bundle   string    `json:"bundle"`
	StoredAt time.Time `json:"stored_at"`
}

// PostCallAction describes the scripted screen shown after a completed consultation
type PostCallAction struct {
	Title       string        `json:"title" yaml:"title"`
	Message     string        `json:"message" yaml:"message"`
	RedirectURL string        `json:"redirect_url,omitempty" yaml:"redirect_url"`
	Delay       time.Duration `json:"delay,omitempty" yaml:"delay"`
}

// ConsultationRecord is one ended consultation as kept in the outcome ledger.
// Display names are deliberately absent.
type ConsultationRecord struct {
	SessionID     string    `json:"session_id"`
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	Department    string    `json:"department,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// Duration returns how long the consultation lasted
func (r ConsultationRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
