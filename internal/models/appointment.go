// Package models holds the value types shared by the consultation page components
package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by stores when a requested entity does not exist
var ErrNotFound = errors.New("entity not found")

// RoomPrefix is prepended to the appointment number to form the provider room id
const RoomPrefix = "ROOM_"

// AppointmentContext is the resolved identity and room data for one consultation.
// It is a value type: once resolved it is only ever replaced, never mutated.
type AppointmentContext struct {
	RoomID             string `json:"room_id"`
	LocalParticipantID string `json:"local_participant_id"`
	LocalDisplayName   string `json:"local_display_name"`
	CounterpartName    string `json:"counterpart_name,omitempty"`
	Department         string `json:"department,omitempty"`
}

// RoomIDForAppointment returns the provider room id for an appointment number
func RoomIDForAppointment(appNo string) string {
	return RoomPrefix + appNo
}

// MissingFields lists the required fields that are empty
func (c AppointmentContext) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(c.RoomID) == "" || c.RoomID == RoomPrefix {
		missing = append(missing, "room_id")
	}
	if strings.TrimSpace(c.LocalParticipantID) == "" {
		missing = append(missing, "local_participant_id")
	}
	if strings.TrimSpace(c.LocalDisplayName) == "" {
		missing = append(missing, "local_display_name")
	}
	return missing
}

// Validate returns an error naming the missing required fields, if any
func (c AppointmentContext) Validate() error {
	if missing := c.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("appointment context incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
