package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/adwski/webrtc-meeting/backend/model"
	"github.com/rs/zerolog"
)

const defaultMeetingTTL = 10 * time.Minute

var (
	ErrCreateUser       = errors.New("unable to create user")
	ErrConnect          = errors.New("unable to connect")
	ErrDisconnect       = errors.New("unable to disconnect")
	ErrCreateMeeting    = errors.New("unable to create meeting")
	ErrGetMeeting       = errors.New("unable to get meeting")
	ErrSessionNotFound  = errors.New("signaling session is not found")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMalformedSDP     = errors.New("malformed session description")
	ErrUnknownType      = errors.New("unknown announcement type")
)

type (
	UserStore interface {
		CreateUser(userID string) (*model.User, error)
		GetUser(userID string) (*model.User, error)
		SetName(userID, name string) (*model.User, error)
		DeleteUser(userID string)
	}

	MeetingStore interface {
		CreateMeeting(ownerID string) (*model.Meeting, error)
		GetMeeting(meetingID string) (*model.Meeting, error)
		AddUser(meetingID string, user model.User) (*model.Meeting, error)
		RemoveUser(userID string) []model.Meeting
		RemoveUserFromMeeting(meetingID, userID string) (*model.Meeting, error)
		DecideRoles(meetingID, userID, peerID string, offer func() bool) (model.ConnectionPair, error)
		PairRole(meetingID, userID, peerID string) (model.ConnectionPair, error)
		DeleteIdle(cutoff time.Time) []string
		Count() int
	}

	Switch interface {
		Connect(userID string, wire model.Wire) error
		Disconnect(userID string) error
		JoinRoom(roomID, userID string) error
		LeaveRoom(roomID, userID string)
		SendTo(ctx context.Context, userID string, ann model.Announcement) error
		BroadcastToRoom(ctx context.Context, roomID string, ann model.Announcement) error
	}

	Service struct {
		users    UserStore
		meetings MeetingStore
		sw       Switch
		coin     func() bool
		ttl      time.Duration
		logger   zerolog.Logger

		mx       *sync.Mutex
		sessions map[string]*session
	}

	Config struct {
		UserStore    UserStore
		MeetingStore MeetingStore
		Switch       Switch
		Logger       *zerolog.Logger

		// Coin decides whether caller of decide-offer-answer becomes offerer.
		// Fair random coin is used if nil.
		Coin func() bool

		// MeetingTTL is how long meeting may stay without members after creation.
		MeetingTTL time.Duration
	}
)

func NewService(cfg Config) *Service {
	coin := cfg.Coin
	if coin == nil {
		coin = fairCoin
	}
	ttl := cfg.MeetingTTL
	if ttl <= 0 {
		ttl = defaultMeetingTTL
	}
	return &Service{
		users:    cfg.UserStore,
		meetings: cfg.MeetingStore,
		sw:       cfg.Switch,
		coin:     coin,
		ttl:      ttl,
		logger:   cfg.Logger.With().Str("component", "signaling").Logger(),
		mx:       &sync.Mutex{},
		sessions: make(map[string]*session),
	}
}

func fairCoin() bool {
	return rand.IntN(2) == 0
}

// CreateSignalingSession registers user identified by userID and starts
// processing of its inbound announcements. Processing stops when ctx is done.
func (svc *Service) CreateSignalingSession(ctx context.Context, userID string, wire model.Wire) error {
	sess := newSession()

	svc.mx.Lock()
	if _, ok := svc.sessions[userID]; ok {
		svc.mx.Unlock()
		return errors.Join(ErrCreateUser, ErrSessionExists)
	}
	svc.sessions[userID] = sess
	svc.mx.Unlock()

	if _, err := svc.users.CreateUser(userID); err != nil {
		svc.dropSession(userID)
		return errors.Join(ErrCreateUser, err)
	}
	if err := svc.sw.Connect(userID, wire); err != nil {
		svc.users.DeleteUser(userID)
		svc.dropSession(userID)
		return errors.Join(ErrConnect, err)
	}
	svc.setState(userID, stateRegistered)

	svc.logger.Debug().
		Str("userID", userID).
		Msg("signaling session connected")

	go svc.serve(ctx, userID, wire.RX, sess.done)
	return nil
}

// DeleteSignalingSession performs disconnect cleanup: user leaves every meeting,
// remaining members are notified, user is deleted. It waits for in-flight
// announcement of this user to be processed first.
func (svc *Service) DeleteSignalingSession(ctx context.Context, userID string) error {
	svc.mx.Lock()
	sess, ok := svc.sessions[userID]
	svc.mx.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	select {
	case <-sess.done:
	case <-ctx.Done():
		return errors.Join(ErrDisconnect, ctx.Err())
	}

	svc.leaveMeetings(ctx, userID)
	if err := svc.sw.Disconnect(userID); err != nil {
		svc.logger.Debug().Err(err).Str("userID", userID).Msg("switch disconnect failed")
	}
	svc.users.DeleteUser(userID)
	svc.dropSession(userID)

	svc.logger.Debug().
		Str("userID", userID).
		Msg("signaling session deleted")
	return nil
}

func (svc *Service) serve(ctx context.Context, userID string, rx <-chan model.Announcement, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ann := <-rx:
			if ann.SRC == "" {
				ann.SRC = userID
			}
			svc.Handle(ctx, ann)
		}
	}
}

// Run periodically deletes meetings nobody has joined within MeetingTTL.
func (svc *Service) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer func() {
		svc.logger.Debug().Msg("meeting reaper stopped")
		wg.Done()
	}()

	ticker := time.NewTicker(svc.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			svc.reapIdleMeetings(now.Add(-svc.ttl))
		}
	}
}

func (svc *Service) reapIdleMeetings(cutoff time.Time) {
	for _, meetingID := range svc.meetings.DeleteIdle(cutoff) {
		svc.logger.Debug().
			Str("meetingID", meetingID).
			Msg("idle meeting deleted")
	}
}

// CreateMeeting registers new meeting owned by ownerID.
func (svc *Service) CreateMeeting(ownerID string) (*model.Meeting, error) {
	meeting, err := svc.meetings.CreateMeeting(ownerID)
	if err != nil {
		return nil, errors.Join(ErrCreateMeeting, err)
	}
	svc.logger.Debug().
		Str("meetingID", meeting.ID).
		Str("ownerID", ownerID).
		Msg("meeting created")
	return meeting, nil
}

func (svc *Service) GetMeeting(meetingID string) (*model.Meeting, error) {
	meeting, err := svc.meetings.GetMeeting(meetingID)
	if err != nil {
		return nil, errors.Join(ErrGetMeeting, err)
	}
	return meeting, nil
}

func (svc *Service) MeetingsCount() int {
	return svc.meetings.Count()
}

// leaveMeetings removes user from all meetings and notifies remaining members.
func (svc *Service) leaveMeetings(ctx context.Context, userID string) {
	if left := svc.meetings.RemoveUser(userID); len(left) > 0 {
		svc.notifyLeft(ctx, userID, left)
		svc.setState(userID, stateRegistered)
	}
}

// leaveMeeting removes user from single meeting and notifies remaining members.
func (svc *Service) leaveMeeting(ctx context.Context, meetingID, userID string) error {
	meeting, err := svc.meetings.RemoveUserFromMeeting(meetingID, userID)
	if err != nil {
		return err
	}
	svc.notifyLeft(ctx, userID, []model.Meeting{*meeting})
	return nil
}

func (svc *Service) notifyLeft(ctx context.Context, userID string, left []model.Meeting) {
	ann, err := model.NewAnnouncement(model.EventUserLeave, model.UserLeave{ID: userID})
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to build user-leave announcement")
		return
	}
	ann.SRC = userID
	for _, meeting := range left {
		svc.sw.LeaveRoom(meeting.RoomID, userID)
		if len(meeting.Users) == 0 {
			svc.logger.Debug().Str("meetingID", meeting.ID).Msg("meeting is empty and deleted")
			continue
		}
		_ = svc.sw.BroadcastToRoom(ctx, meeting.RoomID, ann)
		svc.logger.Debug().
			Str("userID", userID).
			Str("meetingID", meeting.ID).
			Msg("user left meeting")
	}
}
