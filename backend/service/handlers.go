package service

import (
	"context"
	"errors"

	"github.com/adwski/webrtc-meeting/backend/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type handlerFunc func(ctx context.Context, ann model.Announcement) error

func (svc *Service) handler(typ string) (handlerFunc, bool) {
	switch typ {
	case model.EventRegister:
		return svc.register, true
	case model.EventCreateMeeting:
		return svc.createMeeting, true
	case model.EventInitMeeting:
		return svc.initMeeting, true
	case model.EventExitMeeting:
		return svc.exitMeeting, true
	case model.EventDecideOfferAnswer:
		return svc.decideOfferAnswer, true
	case model.EventOffer:
		return svc.offer, true
	case model.EventAnswer:
		return svc.answer, true
	case model.EventOfferCandidates:
		return svc.offerCandidates, true
	case model.EventAnswerCandidates:
		return svc.answerCandidates, true
	}
	return nil, false
}

// Handle processes single inbound announcement. Announcements referring
// to vanished users, meetings or pairs are dropped, the only failure visible
// to the client is invalid-meeting.
func (svc *Service) Handle(ctx context.Context, ann model.Announcement) {
	logger := svc.logger.With().
		Str("type", ann.Type).
		Str("userID", ann.SRC).
		Logger()

	if logger.GetLevel() <= zerolog.TraceLevel {
		logger.Trace().Msg(spew.Sdump(ann))
	}

	h, ok := svc.handler(ann.Type)
	if !ok {
		logger.Warn().Err(ErrUnknownType).Msg("announcement dropped")
		return
	}
	if err := h(ctx, ann); err != nil {
		logger.Debug().
			Err(err).
			Stringer("state", svc.state(ann.SRC)).
			Msg("announcement dropped")
	}
}

func (svc *Service) register(ctx context.Context, ann model.Announcement) error {
	user, err := svc.users.GetUser(ann.SRC)
	if err != nil {
		return err
	}
	return svc.emit(ctx, ann.SRC, model.EventRegisterCreated, user)
}

func (svc *Service) createMeeting(ctx context.Context, ann model.Announcement) error {
	if _, err := svc.users.GetUser(ann.SRC); err != nil {
		return err
	}
	meeting, err := svc.CreateMeeting(ann.SRC)
	if err != nil {
		return err
	}
	return svc.emit(ctx, ann.SRC, model.EventMeetingCreated, model.MeetingCreated{ID: meeting.ID})
}

func (svc *Service) initMeeting(ctx context.Context, ann model.Announcement) error {
	var req model.InitMeetingRequest
	if err := decode(ann, &req); err != nil {
		return err
	}
	if _, err := svc.users.GetUser(ann.SRC); err != nil {
		return err
	}

	meeting, err := svc.meetings.GetMeeting(req.MeetingID)
	if err != nil {
		return svc.invalidMeeting(ctx, ann.SRC, err)
	}

	user, err := svc.users.SetName(ann.SRC, req.UserName)
	if err != nil {
		return err
	}
	rejoin := meeting.HasUser(ann.SRC)
	if err = svc.sw.JoinRoom(meeting.RoomID, ann.SRC); err != nil {
		return err
	}
	meeting, err = svc.meetings.AddUser(req.MeetingID, *user)
	if err != nil {
		svc.sw.LeaveRoom(model.RoomID(req.MeetingID), ann.SRC)
		return svc.invalidMeeting(ctx, ann.SRC, err)
	}
	svc.setState(ann.SRC, stateInMeeting)

	svc.logger.Debug().
		Str("userID", ann.SRC).
		Str("meetingID", meeting.ID).
		Int("users", len(meeting.Users)).
		Bool("rejoin", rejoin).
		Msg("user entered meeting")

	return svc.broadcast(ctx, meeting.RoomID, ann.SRC, model.EventUserEnter, model.UserEnter{Users: meeting.Users})
}

func (svc *Service) exitMeeting(ctx context.Context, ann model.Announcement) error {
	var req model.ExitMeetingRequest
	if err := decode(ann, &req); err != nil {
		return err
	}
	if _, err := svc.users.GetUser(ann.SRC); err != nil {
		return err
	}
	if req.MeetingID != "" {
		// user stays registered and may join again
		if err := svc.leaveMeeting(ctx, req.MeetingID, ann.SRC); err != nil {
			return svc.invalidMeeting(ctx, ann.SRC, err)
		}
		return nil
	}
	svc.leaveMeetings(ctx, ann.SRC)
	svc.users.DeleteUser(ann.SRC)
	svc.setState(ann.SRC, stateConnected)
	return nil
}

func (svc *Service) decideOfferAnswer(ctx context.Context, ann model.Announcement) error {
	var req model.DecideOfferAnswerRequest
	if err := decode(ann, &req); err != nil {
		return err
	}
	pair, err := svc.meetings.DecideRoles(req.MeetingID, ann.SRC, req.AnotherUserID, svc.coin)
	if err != nil {
		return svc.invalidMeeting(ctx, ann.SRC, err)
	}
	svc.logger.Debug().
		Str("meetingID", req.MeetingID).
		Str("userID", ann.SRC).
		Str("peerID", req.AnotherUserID).
		Str("role", string(pair.Role)).
		Msg("offer/answer roles decided")

	return svc.relay(ctx, ann.SRC, req.AnotherUserID, pair, model.RoleOffer, model.EventCreateOffer,
		func(peerID string) any {
			return model.CreateOffer{PeerID: peerID}
		})
}

func (svc *Service) offer(ctx context.Context, ann model.Announcement) error {
	var req model.OfferRequest
	if err := decode(ann, &req); err != nil {
		return err
	}
	if err := validateSessionDescription(req.Offer, webrtc.SDPTypeOffer); err != nil {
		return err
	}
	pair, err := svc.meetings.PairRole(req.MeetingID, ann.SRC, req.ToID)
	if err != nil {
		return svc.invalidMeeting(ctx, ann.SRC, err)
	}
	return svc.relay(ctx, ann.SRC, req.ToID, pair, model.RoleAnswer, model.EventCreateAnswer,
		func(peerID string) any {
			return model.CreateAnswer{PeerID: peerID, Offer: req.Offer}
		})
}

func (svc *Service) answer(ctx context.Context, ann model.Announcement) error {
	var req model.AnswerRequest
	if err := decode(ann, &req); err != nil {
		return err
	}
	if err := validateSessionDescription(req.Answer, webrtc.SDPTypeAnswer); err != nil {
		return err
	}
	pair, err := svc.meetings.PairRole(req.MeetingID, ann.SRC, req.ToID)
	if err != nil {
		return svc.invalidMeeting(ctx, ann.SRC, err)
	}
	return svc.relay(ctx, ann.SRC, req.ToID, pair, model.RoleOffer, model.EventAnswerFound,
		func(peerID string) any {
			return model.AnswerFound{PeerID: peerID, Answer: req.Answer}
		})
}

func (svc *Service) offerCandidates(ctx context.Context, ann model.Announcement) error {
	return svc.candidate(ctx, ann, model.RoleAnswer, model.EventOfferCandidate)
}

func (svc *Service) answerCandidates(ctx context.Context, ann model.Announcement) error {
	return svc.candidate(ctx, ann, model.RoleOffer, model.EventAnswerCandidate)
}

func (svc *Service) candidate(ctx context.Context, ann model.Announcement, target model.Role, typ string) error {
	var req model.CandidateRequest
	if err := decode(ann, &req); err != nil {
		return err
	}
	pair, err := svc.meetings.PairRole(req.MeetingID, ann.SRC, req.ToID)
	if err != nil {
		return svc.invalidMeeting(ctx, ann.SRC, err)
	}
	return svc.relay(ctx, ann.SRC, req.ToID, pair, target, typ,
		func(peerID string) any {
			return model.Candidate{PeerID: peerID, Candidate: req.Candidate}
		})
}

// relay delivers event to the side of the pair holding target role.
// If caller holds it, caller is notified about the peer, otherwise peer
// is notified about the caller.
func (svc *Service) relay(
	ctx context.Context,
	callerID, peerID string,
	pair model.ConnectionPair,
	target model.Role,
	typ string,
	payload func(peerID string) any,
) error {
	if pair.Role == target {
		return svc.emit(ctx, callerID, typ, payload(peerID))
	}
	return svc.emit(ctx, peerID, typ, payload(callerID))
}

// invalidMeeting notifies client if err is caused by missing meeting.
// Error is passed through so announcement is reported as dropped.
func (svc *Service) invalidMeeting(ctx context.Context, userID string, err error) error {
	if errors.Is(err, model.ErrMeetingNotFound) {
		if errE := svc.emit(ctx, userID, model.EventInvalidMeeting, nil); errE != nil {
			return errors.Join(err, errE)
		}
	}
	return err
}

func (svc *Service) emit(ctx context.Context, userID, typ string, payload any) error {
	ann, err := model.NewAnnouncement(typ, payload)
	if err != nil {
		return err
	}
	return svc.sw.SendTo(ctx, userID, ann)
}

func (svc *Service) broadcast(ctx context.Context, roomID, src, typ string, payload any) error {
	ann, err := model.NewAnnouncement(typ, payload)
	if err != nil {
		return err
	}
	ann.SRC = src
	return svc.sw.BroadcastToRoom(ctx, roomID, ann)
}

func decode(ann model.Announcement, v any) error {
	if err := ann.DecodePayload(v); err != nil {
		return errors.Join(ErrMalformedPayload, err)
	}
	return nil
}

func validateSessionDescription(desc webrtc.SessionDescription, typ webrtc.SDPType) error {
	if desc.Type != typ {
		return errors.Join(ErrMalformedSDP, errors.New("unexpected sdp type "+desc.Type.String()))
	}
	if desc.SDP == "" {
		return errors.Join(ErrMalformedSDP, errors.New("empty sdp"))
	}
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc.SDP); err != nil {
		return errors.Join(ErrMalformedSDP, err)
	}
	return nil
}
