package model

import (
	"encoding/json"
)

const (
	defaultWireBufferSize = 64

	roomPrefix = "meeting:"
)

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Meeting is a point-in-time snapshot of a meeting.
// Users are ordered by the time they joined.
type Meeting struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	RoomID  string `json:"room_id"`
	Users   []User `json:"users"`
}

func (m *Meeting) HasUser(userID string) bool {
	for _, u := range m.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// RoomID derives broadcast room name from meeting id.
func RoomID(meetingID string) string {
	return roomPrefix + meetingID
}

type Role string

const (
	RoleOffer  Role = "offer"
	RoleAnswer Role = "answer"
)

// Opposite returns the counterpart role.
func (r Role) Opposite() Role {
	if r == RoleOffer {
		return RoleAnswer
	}
	return RoleOffer
}

type PairState string

const (
	PairStateIdle    PairState = "idle"
	PairStateCreated PairState = "created"
)

// ConnectionPair is negotiation state of one direction of a user pair.
type ConnectionPair struct {
	Role  Role      `json:"role"`
	State PairState `json:"state"`
}

func NewConnectionPair() ConnectionPair {
	return ConnectionPair{
		Role:  RoleAnswer,
		State: PairStateIdle,
	}
}

type Announcement struct {
	DST     string          `json:"dst,omitempty"`
	SRC     string          `json:"src,omitempty"` // for inbound messages server re-assigns this based on websocket session
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewAnnouncement builds announcement with payload marshaled to json.
// Nil payload produces announcement without payload.
func NewAnnouncement(typ string, payload any) (Announcement, error) {
	ann := Announcement{Type: typ}
	if payload == nil {
		return ann, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ann, err
	}
	ann.Payload = b
	return ann, nil
}

// DecodePayload unmarshals announcement payload into v.
func (a *Announcement) DecodePayload(v any) error {
	if len(a.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(a.Payload, v)
}

type Wire struct {
	RX chan Announcement
	TX chan Announcement
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Announcement),
		TX: make(chan Announcement, defaultWireBufferSize),
	}
}
