package models

import "time"

// SnapshotSource tells where a room status snapshot came from
type SnapshotSource string

const (
	SourceProvider      SnapshotSource = "provider"
	SourceMediaElements SnapshotSource = "media-elements"
)

// Participant is a room member as reported by the video provider
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomStatusSnapshot is recomputed on every poll of the room status monitor.
// It is only meaningful while the session is in call.
type RoomStatusSnapshot struct {
	ParticipantCount int            `json:"participant_count"`
	ParticipantNames []string       `json:"participant_names"`
	Source           SnapshotSource `json:"source,omitempty"`
	PolledAt         time.Time      `json:"polled_at,omitempty"`
}

// SnapshotFromParticipants builds a snapshot from structured provider data
func SnapshotFromParticipants(participants []Participant, at time.Time) RoomStatusSnapshot {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		names = append(names, name)
	}
	return RoomStatusSnapshot{
		ParticipantCount: len(participants),
		ParticipantNames: names,
		Source:           SourceProvider,
		PolledAt:         at,
	}
}
