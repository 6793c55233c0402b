package model

import (
	"github.com/pion/webrtc/v4"
)

// Inbound event types sent by clients.
const (
	EventRegister          = "register"
	EventCreateMeeting     = "create-meeting"
	EventInitMeeting       = "init-meeting"
	EventExitMeeting       = "exit-meeting"
	EventDecideOfferAnswer = "decide-offer-answer"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventOfferCandidates   = "offer-candidates"
	EventAnswerCandidates  = "answer-candidates"
)

// Outbound event types sent by server.
const (
	EventRegisterCreated = "register-created"
	EventMeetingCreated  = "meeting-created"
	EventInvalidMeeting  = "invalid-meeting"
	EventUserEnter       = "user-enter"
	EventUserLeave       = "user-leave"
	EventCreateOffer     = "create-offer"
	EventCreateAnswer    = "create-answer"
	EventAnswerFound     = "answer-found"
	EventOfferCandidate  = "offer-candidate"
	EventAnswerCandidate = "answer-candidate"
)

type InitMeetingRequest struct {
	MeetingID string `json:"meetingId"`
	UserName  string `json:"userName"`
}

// ExitMeetingRequest limits exit to a single meeting.
// Empty MeetingID means leaving every meeting.
type ExitMeetingRequest struct {
	MeetingID string `json:"meetingId,omitempty"`
}

type DecideOfferAnswerRequest struct {
	MeetingID     string `json:"meetingId"`
	AnotherUserID string `json:"anotherUserId"`
}

type OfferRequest struct {
	MeetingID string                    `json:"meetingId"`
	ToID      string                    `json:"toId"`
	Offer     webrtc.SessionDescription `json:"offer"`
}

type AnswerRequest struct {
	MeetingID string                    `json:"meetingId"`
	ToID      string                    `json:"toId"`
	Answer    webrtc.SessionDescription `json:"answer"`
}

type CandidateRequest struct {
	MeetingID string                  `json:"meetingId"`
	ToID      string                  `json:"toId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type MeetingCreated struct {
	ID string `json:"id"`
}

type UserEnter struct {
	Users []User `json:"users"`
}

type UserLeave struct {
	ID string `json:"id"`
}

type CreateOffer struct {
	PeerID string `json:"peerId"`
}

type CreateAnswer struct {
	PeerID string                    `json:"peerId"`
	Offer  webrtc.SessionDescription `json:"offer"`
}

type AnswerFound struct {
	PeerID string                    `json:"peerId"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type Candidate struct {
	PeerID    string                  `json:"peerId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}
