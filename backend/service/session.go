package service

import "errors"

var ErrSessionExists = errors.New("signaling session already exists")

type sessionState int

const (
	stateConnected sessionState = iota
	stateRegistered
	stateInMeeting
	stateDisconnected
)

func (s sessionState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateRegistered:
		return "registered"
	case stateInMeeting:
		return "in-meeting"
	case stateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type session struct {
	state sessionState
	done  chan struct{}
}

func newSession() *session {
	return &session{
		state: stateConnected,
		done:  make(chan struct{}),
	}
}

func (svc *Service) setState(userID string, state sessionState) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if sess, ok := svc.sessions[userID]; ok && sess.state != stateDisconnected {
		sess.state = state
	}
}

func (svc *Service) state(userID string) sessionState {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if sess, ok := svc.sessions[userID]; ok {
		return sess.state
	}
	return stateDisconnected
}

func (svc *Service) dropSession(userID string) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if sess, ok := svc.sessions[userID]; ok {
		sess.state = stateDisconnected
		delete(svc.sessions, userID)
	}
}
