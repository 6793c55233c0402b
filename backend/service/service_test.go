package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/adwski/webrtc-meeting/backend/model"
	"github.com/adwski/webrtc-meeting/backend/storage/memory"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n"

type fakeSwitch struct {
	mx        *sync.Mutex
	connected map[string]model.Wire
	rooms     map[string]map[string]struct{}
	inbox     map[string][]model.Announcement
}

func newFakeSwitch() *fakeSwitch {
	return &fakeSwitch{
		mx:        &sync.Mutex{},
		connected: make(map[string]model.Wire),
		rooms:     make(map[string]map[string]struct{}),
		inbox:     make(map[string][]model.Announcement),
	}
}

func (f *fakeSwitch) Connect(userID string, wire model.Wire) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.connected[userID] = wire
	return nil
}

func (f *fakeSwitch) Disconnect(userID string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	delete(f.connected, userID)
	for _, members := range f.rooms {
		delete(members, userID)
	}
	return nil
}

func (f *fakeSwitch) JoinRoom(roomID, userID string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if _, ok := f.rooms[roomID]; !ok {
		f.rooms[roomID] = make(map[string]struct{})
	}
	f.rooms[roomID][userID] = struct{}{}
	return nil
}

func (f *fakeSwitch) LeaveRoom(roomID, userID string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	delete(f.rooms[roomID], userID)
}

func (f *fakeSwitch) SendTo(_ context.Context, userID string, ann model.Announcement) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	ann.DST = userID
	f.inbox[userID] = append(f.inbox[userID], ann)
	return nil
}

func (f *fakeSwitch) BroadcastToRoom(_ context.Context, roomID string, ann model.Announcement) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	for userID := range f.rooms[roomID] {
		f.inbox[userID] = append(f.inbox[userID], ann)
	}
	return nil
}

// take returns and clears everything delivered to user so far.
func (f *fakeSwitch) take(userID string) []model.Announcement {
	f.mx.Lock()
	defer f.mx.Unlock()
	out := f.inbox[userID]
	delete(f.inbox, userID)
	return out
}

type testEnv struct {
	svc      *Service
	sw       *fakeSwitch
	meetings *memory.MemStore
	users    *memory.UserStore
}

func newTestEnv(t *testing.T, coin bool) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	env := &testEnv{
		sw:       newFakeSwitch(),
		meetings: memory.NewMemStoreWithIDGenerator(func() string { return "m1" }),
		users:    memory.NewUserStore(),
	}
	env.svc = NewService(Config{
		UserStore:    env.users,
		MeetingStore: env.meetings,
		Switch:       env.sw,
		Logger:       &logger,
		Coin:         func() bool { return coin },
	})
	return env
}

func (e *testEnv) connect(t *testing.T, userID string) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.svc.CreateSignalingSession(ctx, userID, model.NewWire()))
	t.Cleanup(cancel)
	return cancel
}

func (e *testEnv) send(t *testing.T, userID, typ string, payload any) {
	t.Helper()

	ann, err := model.NewAnnouncement(typ, payload)
	require.NoError(t, err)
	ann.SRC = userID
	e.svc.Handle(context.Background(), ann)
}

// meetingWithAliceAndBob returns env where alice and bob are in meeting m1
// and all announcements so far are consumed.
func meetingWithAliceAndBob(t *testing.T, coin bool) *testEnv {
	t.Helper()

	env := newTestEnv(t, coin)
	env.connect(t, "alice-id")
	env.connect(t, "bob-id")
	env.send(t, "alice-id", model.EventCreateMeeting, nil)
	env.send(t, "alice-id", model.EventInitMeeting, model.InitMeetingRequest{MeetingID: "m1", UserName: "Alice"})
	env.send(t, "bob-id", model.EventInitMeeting, model.InitMeetingRequest{MeetingID: "m1", UserName: "Bob"})
	env.sw.take("alice-id")
	env.sw.take("bob-id")
	return env
}

func payloadOf[T any](t *testing.T, ann model.Announcement) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(ann.Payload, &v))
	return v
}

func TestService_MeetingScenario(t *testing.T) {
	for _, coin := range []bool{true, false} {
		env := newTestEnv(t, coin)
		env.connect(t, "alice-id")
		env.connect(t, "bob-id")

		env.send(t, "alice-id", model.EventCreateMeeting, nil)
		got := env.sw.take("alice-id")
		require.Len(t, got, 1)
		assert.Equal(t, model.EventMeetingCreated, got[0].Type)
		assert.Equal(t, model.MeetingCreated{ID: "m1"}, payloadOf[model.MeetingCreated](t, got[0]))

		env.send(t, "alice-id", model.EventInitMeeting, model.InitMeetingRequest{MeetingID: "m1", UserName: "Alice"})
		got = env.sw.take("alice-id")
		require.Len(t, got, 1)
		assert.Equal(t, model.EventUserEnter, got[0].Type)
		assert.Equal(t, []model.User{{ID: "alice-id", Name: "Alice"}}, payloadOf[model.UserEnter](t, got[0]).Users)

		env.send(t, "bob-id", model.EventInitMeeting, model.InitMeetingRequest{MeetingID: "m1", UserName: "Bob"})
		both := []model.User{{ID: "alice-id", Name: "Alice"}, {ID: "bob-id", Name: "Bob"}}
		for _, id := range []string{"alice-id", "bob-id"} {
			got = env.sw.take(id)
			require.Len(t, got, 1, id)
			assert.Equal(t, model.EventUserEnter, got[0].Type)
			assert.Equal(t, both, payloadOf[model.UserEnter](t, got[0]).Users)
		}

		env.send(t, "alice-id", model.EventDecideOfferAnswer,
			model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "bob-id"})

		toAlice, toBob := env.sw.take("alice-id"), env.sw.take("bob-id")
		require.Equal(t, 1, len(toAlice)+len(toBob), "exactly one client must be told to create offer")
		if coin {
			require.Len(t, toAlice, 1)
			assert.Equal(t, model.EventCreateOffer, toAlice[0].Type)
			assert.Equal(t, "bob-id", payloadOf[model.CreateOffer](t, toAlice[0]).PeerID)
		} else {
			require.Len(t, toBob, 1)
			assert.Equal(t, model.EventCreateOffer, toBob[0].Type)
			assert.Equal(t, "alice-id", payloadOf[model.CreateOffer](t, toBob[0]).PeerID)
		}
	}
}

func TestService_InitMeetingInvalid(t *testing.T) {
	env := newTestEnv(t, true)
	env.connect(t, "alice-id")

	env.send(t, "alice-id", model.EventInitMeeting,
		model.InitMeetingRequest{MeetingID: "does-not-exist", UserName: "Alice"})

	got := env.sw.take("alice-id")
	require.Len(t, got, 1)
	assert.Equal(t, model.EventInvalidMeeting, got[0].Type)
	assert.Equal(t, 0, env.meetings.Count())

	user, err := env.users.GetUser("alice-id")
	require.NoError(t, err)
	assert.Empty(t, user.Name, "name must not be set for invalid meeting")
	assert.Empty(t, env.sw.rooms)
}

func TestService_RoleRouting(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}
	mid := "0"
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 UDP 2122252543 10.0.0.1 54321 typ host", SDPMid: &mid}

	type send struct {
		typ     string
		payload any
	}
	requests := func(to string) []send {
		return []send{
			{model.EventOffer, model.OfferRequest{MeetingID: "m1", ToID: to, Offer: offer}},
			{model.EventAnswer, model.AnswerRequest{MeetingID: "m1", ToID: to, Answer: answer}},
			{model.EventOfferCandidates, model.CandidateRequest{MeetingID: "m1", ToID: to, Candidate: candidate}},
			{model.EventAnswerCandidates, model.CandidateRequest{MeetingID: "m1", ToID: to, Candidate: candidate}},
		}
	}

	// alice holds the offer role in every case
	tests := []struct {
		name   string
		sender string
		peer   string
		// recipients of create-answer, answer-found, offer-candidate, answer-candidate
		want [4]string
	}{
		{
			name:   "offerer sends",
			sender: "alice-id",
			peer:   "bob-id",
			want:   [4]string{"bob-id", "alice-id", "bob-id", "alice-id"},
		},
		{
			name:   "answerer sends",
			sender: "bob-id",
			peer:   "alice-id",
			want:   [4]string{"bob-id", "alice-id", "bob-id", "alice-id"},
		},
	}
	events := [4]string{model.EventCreateAnswer, model.EventAnswerFound, model.EventOfferCandidate, model.EventAnswerCandidate}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := meetingWithAliceAndBob(t, true)
			env.send(t, "alice-id", model.EventDecideOfferAnswer,
				model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "bob-id"})
			env.sw.take("alice-id")

			for i, req := range requests(tt.peer) {
				env.send(t, tt.sender, req.typ, req.payload)

				toAlice, toBob := env.sw.take("alice-id"), env.sw.take("bob-id")
				require.Equal(t, 1, len(toAlice)+len(toBob), req.typ)

				got := append(toAlice, toBob...)[0]
				assert.Equal(t, events[i], got.Type)
				assert.Equal(t, tt.want[i], got.DST, req.typ)

				// peerId always names the other side of the pair from recipient's view
				wantPeer := "alice-id"
				if got.DST == "alice-id" {
					wantPeer = "bob-id"
				}
				var p struct {
					PeerID string `json:"peerId"`
				}
				require.NoError(t, json.Unmarshal(got.Payload, &p))
				assert.Equal(t, wantPeer, p.PeerID, req.typ)
			}
		})
	}
}

func TestService_RelayPayloads(t *testing.T) {
	env := meetingWithAliceAndBob(t, true)
	env.send(t, "bob-id", model.EventDecideOfferAnswer,
		model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "alice-id"})

	toBob := env.sw.take("bob-id")
	require.Len(t, toBob, 1)
	assert.Equal(t, "alice-id", payloadOf[model.CreateOffer](t, toBob[0]).PeerID, "bob got offer role, alice answers")
	assert.Empty(t, env.sw.take("alice-id"))

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}
	env.send(t, "bob-id", model.EventOffer, model.OfferRequest{MeetingID: "m1", ToID: "alice-id", Offer: offer})
	toAlice := env.sw.take("alice-id")
	require.Len(t, toAlice, 1)
	ca := payloadOf[model.CreateAnswer](t, toAlice[0])
	assert.Equal(t, "bob-id", ca.PeerID)
	assert.Equal(t, webrtc.SDPTypeOffer, ca.Offer.Type)
	assert.Equal(t, testSDP, ca.Offer.SDP)
}

func TestService_ConcurrentDecide(t *testing.T) {
	for i := 0; i < 20; i++ {
		env := meetingWithAliceAndBob(t, i%2 == 0)

		var flips int
		flipsMx := &sync.Mutex{}
		env.svc.coin = func() bool {
			flipsMx.Lock()
			defer flipsMx.Unlock()
			flips++
			return flips%2 == 1
		}

		wg := &sync.WaitGroup{}
		wg.Add(2)
		go func() {
			defer wg.Done()
			env.send(t, "alice-id", model.EventDecideOfferAnswer,
				model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "bob-id"})
		}()
		go func() {
			defer wg.Done()
			env.send(t, "bob-id", model.EventDecideOfferAnswer,
				model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "alice-id"})
		}()
		wg.Wait()

		assert.Equal(t, 1, flips)

		ab, err := env.meetings.PairRole("m1", "alice-id", "bob-id")
		require.NoError(t, err)
		ba, err := env.meetings.PairRole("m1", "bob-id", "alice-id")
		require.NoError(t, err)
		assert.Equal(t, ab.Role.Opposite(), ba.Role)

		// both requests reach the single offerer
		offerer := "alice-id"
		if ba.Role == model.RoleOffer {
			offerer = "bob-id"
		}
		other := "bob-id"
		if offerer == "bob-id" {
			other = "alice-id"
		}
		assert.Len(t, env.sw.take(offerer), 2)
		assert.Empty(t, env.sw.take(other))
	}
}

func TestService_DecideIsIdempotent(t *testing.T) {
	env := meetingWithAliceAndBob(t, true)

	for i := 0; i < 3; i++ {
		env.send(t, "bob-id", model.EventDecideOfferAnswer,
			model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "alice-id"})
		env.svc.coin = func() bool { return false }
	}
	got := env.sw.take("bob-id")
	require.Len(t, got, 3)
	for _, ann := range got {
		assert.Equal(t, model.EventCreateOffer, ann.Type)
	}
	assert.Empty(t, env.sw.take("alice-id"))
}

func TestService_SilentDrops(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}

	tests := []struct {
		name    string
		sender  string
		typ     string
		payload any
		raw     json.RawMessage
	}{
		{
			name:    "offer for undecided pair",
			sender:  "alice-id",
			typ:     model.EventOffer,
			payload: model.OfferRequest{MeetingID: "m1", ToID: "bob-id", Offer: offer},
		},
		{
			name:    "decide with unknown peer",
			sender:  "alice-id",
			typ:     model.EventDecideOfferAnswer,
			payload: model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "ghost-id"},
		},
		{
			name:    "decide with self",
			sender:  "alice-id",
			typ:     model.EventDecideOfferAnswer,
			payload: model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "alice-id"},
		},
		{
			name:    "candidate to unknown peer",
			sender:  "alice-id",
			typ:     model.EventOfferCandidates,
			payload: model.CandidateRequest{MeetingID: "m1", ToID: "ghost-id"},
		},
		{
			name:    "unknown user creates meeting",
			sender:  "ghost-id",
			typ:     model.EventCreateMeeting,
			payload: nil,
		},
		{
			name:    "unknown user joins meeting",
			sender:  "ghost-id",
			typ:     model.EventInitMeeting,
			payload: model.InitMeetingRequest{MeetingID: "m1", UserName: "Ghost"},
		},
		{
			name:   "malformed payload",
			sender: "alice-id",
			typ:    model.EventDecideOfferAnswer,
			raw:    json.RawMessage(`[1,2,3]`),
		},
		{
			name:    "offer with broken sdp",
			sender:  "alice-id",
			typ:     model.EventOffer,
			payload: model.OfferRequest{MeetingID: "m1", ToID: "bob-id", Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"}},
		},
		{
			name:    "offer with answer sdp",
			sender:  "alice-id",
			typ:     model.EventOffer,
			payload: model.OfferRequest{MeetingID: "m1", ToID: "bob-id", Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}},
		},
		{
			name:   "unknown type",
			sender: "alice-id",
			typ:    "teleport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := meetingWithAliceAndBob(t, true)
			if tt.raw != nil {
				env.svc.Handle(context.Background(), model.Announcement{SRC: tt.sender, Type: tt.typ, Payload: tt.raw})
			} else {
				env.send(t, tt.sender, tt.typ, tt.payload)
			}
			assert.Empty(t, env.sw.take("alice-id"))
			assert.Empty(t, env.sw.take("bob-id"))

			m, err := env.meetings.GetMeeting("m1")
			require.NoError(t, err)
			assert.Len(t, m.Users, 2)
		})
	}
}

func TestService_SignalingWithVanishedMeeting(t *testing.T) {
	env := meetingWithAliceAndBob(t, true)

	env.send(t, "alice-id", model.EventDecideOfferAnswer,
		model.DecideOfferAnswerRequest{MeetingID: "m2", AnotherUserID: "bob-id"})

	got := env.sw.take("alice-id")
	require.Len(t, got, 1)
	assert.Equal(t, model.EventInvalidMeeting, got[0].Type)
	assert.Empty(t, env.sw.take("bob-id"))
}

func TestService_ExitMeeting(t *testing.T) {
	env := meetingWithAliceAndBob(t, true)
	env.send(t, "alice-id", model.EventDecideOfferAnswer,
		model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "bob-id"})
	env.sw.take("alice-id")

	env.send(t, "alice-id", model.EventExitMeeting, nil)

	got := env.sw.take("bob-id")
	require.Len(t, got, 1)
	assert.Equal(t, model.EventUserLeave, got[0].Type)
	assert.Equal(t, "alice-id", payloadOf[model.UserLeave](t, got[0]).ID)
	assert.Empty(t, env.sw.take("alice-id"))

	m, err := env.meetings.GetMeeting("m1")
	require.NoError(t, err)
	assert.Equal(t, []model.User{{ID: "bob-id", Name: "Bob"}}, m.Users)

	_, err = env.users.GetUser("alice-id")
	assert.ErrorIs(t, err, memory.ErrUserNotFound)

	_, err = env.meetings.PairRole("m1", "bob-id", "alice-id")
	assert.ErrorIs(t, err, memory.ErrNotAMember)

	// late signaling from bob to departed alice is dropped
	env.send(t, "bob-id", model.EventAnswer, model.AnswerRequest{
		MeetingID: "m1",
		ToID:      "alice-id",
		Answer:    webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP},
	})
	assert.Empty(t, env.sw.take("alice-id"))
	assert.Empty(t, env.sw.take("bob-id"))
}

func TestService_Disconnect(t *testing.T) {
	env := newTestEnv(t, true)
	cancelAlice := env.connect(t, "alice-id")
	env.connect(t, "bob-id")
	env.send(t, "alice-id", model.EventCreateMeeting, nil)
	env.send(t, "alice-id", model.EventInitMeeting, model.InitMeetingRequest{MeetingID: "m1", UserName: "Alice"})
	env.send(t, "bob-id", model.EventInitMeeting, model.InitMeetingRequest{MeetingID: "m1", UserName: "Bob"})
	env.send(t, "alice-id", model.EventDecideOfferAnswer,
		model.DecideOfferAnswerRequest{MeetingID: "m1", AnotherUserID: "bob-id"})
	env.sw.take("alice-id")
	env.sw.take("bob-id")

	cancelAlice()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.svc.DeleteSignalingSession(ctx, "alice-id"))

	got := env.sw.take("bob-id")
	require.Len(t, got, 1)
	assert.Equal(t, model.EventUserLeave, got[0].Type)

	_, err := env.users.GetUser("alice-id")
	assert.ErrorIs(t, err, memory.ErrUserNotFound)
	_, err = env.meetings.PairRole("m1", "bob-id", "alice-id")
	assert.ErrorIs(t, err, memory.ErrNotAMember)

	assert.ErrorIs(t, env.svc.DeleteSignalingSession(ctx, "alice-id"), ErrSessionNotFound)
	assert.Empty(t, env.sw.take("bob-id"))

	// identity can be reused after disconnect
	env.connect(t, "alice-id")
}

func TestService_LastUserLeavingDeletesMeeting(t *testing.T) {
	env := meetingWithAliceAndBob(t, true)

	env.send(t, "alice-id", model.EventExitMeeting, nil)
	env.send(t, "bob-id", model.EventExitMeeting, nil)

	_, err := env.meetings.GetMeeting("m1")
	assert.ErrorIs(t, err, memory.ErrMeetingNotFound)

	env.connect(t, "carol-id")
	env.send(t, "carol-id", model.EventInitMeeting, model.InitMeetingRequest{MeetingID: "m1", UserName: "Carol"})
	got := env.sw.take("carol-id")
	require.Len(t, got, 1)
	assert.Equal(t, model.EventInvalidMeeting, got[0].Type)
}

func TestService_DuplicateSession(t *testing.T) {
	env := newTestEnv(t, true)
	env.connect(t, "alice-id")

	err := env.svc.CreateSignalingSession(context.Background(), "alice-id", model.NewWire())
	assert.ErrorIs(t, err, ErrCreateUser)
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestService_Register(t *testing.T) {
	env := newTestEnv(t, true)
	env.connect(t, "alice-id")

	env.send(t, "ghost-id", model.EventRegister, nil)
	env.send(t, "alice-id", model.EventRegister, nil)

	got := env.sw.take("alice-id")
	require.Len(t, got, 1)
	assert.Equal(t, model.EventRegisterCreated, got[0].Type)
	assert.Equal(t, model.User{ID: "alice-id"}, payloadOf[model.User](t, got[0]))
}

func TestService_ServeLoop(t *testing.T) {
	env := newTestEnv(t, true)
	wire := model.NewWire()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, env.svc.CreateSignalingSession(ctx, "alice-id", wire))

	wire.RX <- model.Announcement{Type: model.EventCreateMeeting}

	assert.Eventually(t, func() bool {
		got := env.sw.take("alice-id")
		return len(got) == 1 && got[0].Type == model.EventMeetingCreated
	}, time.Second, 10*time.Millisecond)
}

func TestService_ExitSingleMeeting(t *testing.T) {
	env := meetingWithAliceAndBob(t, true)

	env.send(t, "alice-id", model.EventExitMeeting, model.ExitMeetingRequest{MeetingID: "m1"})

	got := env.sw.take("bob-id")
	require.Len(t, got, 1)
	assert.Equal(t, model.EventUserLeave, got[0].Type)
	assert.Equal(t, "alice-id", payloadOf[model.UserLeave](t, got[0]).ID)
	assert.Empty(t, env.sw.take("alice-id"))

	user, err := env.users.GetUser("alice-id")
	require.NoError(t, err, "scoped exit keeps user registered")
	assert.Equal(t, "Alice", user.Name)

	env.send(t, "alice-id", model.EventInitMeeting, model.InitMeetingRequest{MeetingID: "m1", UserName: "Alice"})
	for _, id := range []string{"alice-id", "bob-id"} {
		got = env.sw.take(id)
		require.Len(t, got, 1, id)
		assert.Equal(t, model.EventUserEnter, got[0].Type)
		assert.Len(t, payloadOf[model.UserEnter](t, got[0]).Users, 2)
	}

	env.send(t, "alice-id", model.EventExitMeeting, model.ExitMeetingRequest{MeetingID: "m2"})
	got = env.sw.take("alice-id")
	require.Len(t, got, 1)
	assert.Equal(t, model.EventInvalidMeeting, got[0].Type)
	assert.Empty(t, env.sw.take("bob-id"))
}

func TestService_ReapIdleMeetings(t *testing.T) {
	logger := zerolog.Nop()
	meetings := memory.NewMemStoreWithIDGenerator(func() string { return "m1" })
	svc := NewService(Config{
		UserStore:    memory.NewUserStore(),
		MeetingStore: meetings,
		Switch:       newFakeSwitch(),
		Logger:       &logger,
		MeetingTTL:   20 * time.Millisecond,
	})

	_, err := svc.CreateMeeting("alice-id")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go svc.Run(ctx, wg)

	assert.Eventually(t, func() bool {
		return svc.MeetingsCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestService_JoinedMeetingIsNotReaped(t *testing.T) {
	env := meetingWithAliceAndBob(t, true)

	env.svc.reapIdleMeetings(time.Now().Add(time.Hour))

	m, err := env.meetings.GetMeeting("m1")
	require.NoError(t, err)
	assert.Len(t, m.Users, 2)
}
