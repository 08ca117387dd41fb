package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"uddhar.app/store"
)

// Wire message types. Every frame carries a type discriminant and is
// validated before dispatch.
const (
	TypePositionReport    = "position_report"
	TypePositionBroadcast = "position_broadcast"
	TypePositionAck       = "position_ack"
	TypePositionError     = "position_error"
	TypeHeartbeat         = "heartbeat"
)

// ErrMalformedReport means a position report was missing or carried invalid
// coordinates or identity. Rejected before it reaches the store.
var ErrMalformedReport = errors.New("malformed report")

var validate = validator.New()

// Metadata is the unfurled preview for an attached link: the fields the
// broadcast card renders, nothing more
type Metadata struct {
	Created     int64
	Title       string
	Description string
	Image       string
	Url         string
}

// Message is the single wire envelope. Which fields are set depends on Type;
// pointers distinguish absent coordinates from (0, 0).
type Message struct {
	Type string `json:"type"`

	// position_report / position_broadcast / position_ack
	UserID      string   `json:"userId,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Accuracy    float64  `json:"accuracy,omitempty"`
	Description string   `json:"description,omitempty"`
	HelpType    string   `json:"helpType,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Image       string   `json:"image,omitempty"`

	// broadcast only: resolved identity and write time
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	// In nanoseconds
	UpdatedAt int64 `json:"updatedAt,omitempty,string"`

	// position_error only
	Error string `json:"message,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`
}

// Decode parses a frame and checks the discriminant is one we speak
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	switch m.Type {
	case TypePositionReport, TypePositionBroadcast, TypePositionAck, TypePositionError, TypeHeartbeat:
		return &m, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedReport, m.Type)
}

// ValidateReport checks a position_report has a user id and coordinates in
// range before it is allowed near the store
func (m *Message) ValidateReport() error {
	if len(m.UserID) == 0 {
		return fmt.Errorf("%w: missing userId", ErrMalformedReport)
	}
	if m.Latitude == nil || m.Longitude == nil {
		return fmt.Errorf("%w: missing coordinates", ErrMalformedReport)
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: coordinates out of range", ErrMalformedReport)
	}
	return nil
}

// Report converts a validated position_report into a store write
func (m *Message) Report() *store.Report {
	return &store.Report{
		UserID:      m.UserID,
		Lat:         *m.Latitude,
		Lon:         *m.Longitude,
		Accuracy:    m.Accuracy,
		Description: m.Description,
		HelpType:    m.HelpType,
		Priority:    m.Priority,
		Image:       m.Image,
	}
}

// NewReport builds a client position report
func NewReport(userID string, lat, lon float64) *Message {
	return &Message{
		Type:      TypePositionReport,
		UserID:    userID,
		Latitude:  &lat,
		Longitude: &lon,
	}
}

// NewHeartbeat builds an opaque keep-alive frame
func NewHeartbeat() *Message {
	return &Message{Type: TypeHeartbeat}
}

// NewBroadcast builds the normalized record fanned out to all observers
func NewBroadcast(rec *store.Record) *Message {
	return recordMessage(TypePositionBroadcast, rec)
}

// NewAck builds the acknowledgment sent back to the reporting client
func NewAck(rec *store.Record) *Message {
	return recordMessage(TypePositionAck, rec)
}

func recordMessage(typ string, rec *store.Record) *Message {
	lat, lon := rec.Lat, rec.Lon
	return &Message{
		Type:        typ,
		UserID:      rec.UserID,
		Name:        rec.Name,
		Role:        rec.Role,
		Latitude:    &lat,
		Longitude:   &lon,
		Accuracy:    rec.Accuracy,
		Description: rec.Description,
		HelpType:    rec.HelpType,
		Priority:    rec.Priority,
		Image:       rec.Image,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// NewError builds a position_error addressed to a single sender
func NewError(text string) *Message {
	return &Message{Type: TypePositionError, Error: text}
}
