package memory

import (
	"sync"
	"time"

	"github.com/adwski/webrtc-meeting/backend/model"
	"github.com/google/uuid"
)

var (
	ErrMeetingNotFound = model.ErrMeetingNotFound
	ErrNotAMember      = model.ErrNotAMember
	ErrSelfPair        = model.ErrSelfPair
	ErrPairUndecided   = model.ErrPairUndecided
)

type meeting struct {
	mx      *sync.Mutex
	id      string
	ownerID string
	roomID  string
	created time.Time
	users   []model.User
	pairs   map[string]map[string]model.ConnectionPair
}

func (m *meeting) snapshot() *model.Meeting {
	users := make([]model.User, len(m.users))
	copy(users, m.users)
	return &model.Meeting{
		ID:      m.id,
		OwnerID: m.ownerID,
		RoomID:  m.roomID,
		Users:   users,
	}
}

func (m *meeting) userIndex(userID string) int {
	for i, u := range m.users {
		if u.ID == userID {
			return i
		}
	}
	return -1
}

// getOrCreatePair returns pair state of (from -> to) direction
// inserting default state if it's not there yet. Must be called with m.mx held.
func (m *meeting) getOrCreatePair(from, to string) model.ConnectionPair {
	peers, ok := m.pairs[from]
	if !ok {
		peers = make(map[string]model.ConnectionPair)
		m.pairs[from] = peers
	}
	pair, ok := peers[to]
	if !ok {
		pair = model.NewConnectionPair()
		peers[to] = pair
	}
	return pair
}

func (m *meeting) setPair(from, to string, pair model.ConnectionPair) {
	m.pairs[from][to] = pair
}

// dropUser removes user and every pair entry that involves it.
// Must be called with m.mx held.
func (m *meeting) dropUser(userID string) bool {
	idx := m.userIndex(userID)
	if idx < 0 {
		return false
	}
	m.users = append(m.users[:idx], m.users[idx+1:]...)

	delete(m.pairs, userID)
	for from, peers := range m.pairs {
		delete(peers, userID)
		if len(peers) == 0 {
			delete(m.pairs, from)
		}
	}
	return true
}

// MemStore is in-memory meeting registry.
//
// Lock order is always store then meeting. Membership changes take store lock
// exclusively, pair negotiation takes it shared and serializes on meeting lock.
type MemStore struct {
	mx    *sync.RWMutex
	db    map[string]*meeting
	index map[string]map[string]struct{} // userID -> meetingIDs
	newID func() string
}

func NewMemStore() *MemStore {
	return NewMemStoreWithIDGenerator(uuid.NewString)
}

func NewMemStoreWithIDGenerator(gen func() string) *MemStore {
	return &MemStore{
		mx:    &sync.RWMutex{},
		db:    make(map[string]*meeting),
		index: make(map[string]map[string]struct{}),
		newID: gen,
	}
}

func (ms *MemStore) CreateMeeting(ownerID string) (*model.Meeting, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	var id string
	for {
		id = ms.newID()
		if _, ok := ms.db[id]; !ok && id != "" {
			break
		}
	}

	m := &meeting{
		mx:      &sync.Mutex{},
		id:      id,
		ownerID: ownerID,
		roomID:  model.RoomID(id),
		created: time.Now(),
		users:   make([]model.User, 0),
		pairs:   make(map[string]map[string]model.ConnectionPair),
	}
	ms.db[id] = m
	return m.snapshot(), nil
}

func (ms *MemStore) GetMeeting(meetingID string) (*model.Meeting, error) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	m, ok := ms.db[meetingID]
	if !ok {
		return nil, ErrMeetingNotFound
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.snapshot(), nil
}

// DeleteIdle deletes meetings that have no members and were created
// before the cutoff. Returns ids of deleted meetings.
func (ms *MemStore) DeleteIdle(cutoff time.Time) []string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	var deleted []string
	for id, m := range ms.db {
		m.mx.Lock()
		idle := len(m.users) == 0 && m.created.Before(cutoff)
		m.mx.Unlock()
		if idle {
			delete(ms.db, id)
			deleted = append(deleted, id)
		}
	}
	return deleted
}

// Count returns number of live meetings.
func (ms *MemStore) Count() int {
	ms.mx.RLock()
	defer ms.mx.RUnlock()
	return len(ms.db)
}

// AddUser adds user to meeting membership. If user is already a member
// its display name is updated.
func (ms *MemStore) AddUser(meetingID string, user model.User) (*model.Meeting, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	m, ok := ms.db[meetingID]
	if !ok {
		return nil, ErrMeetingNotFound
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	if idx := m.userIndex(user.ID); idx >= 0 {
		m.users[idx] = user
	} else {
		m.users = append(m.users, user)
	}

	meetings, ok := ms.index[user.ID]
	if !ok {
		meetings = make(map[string]struct{})
		ms.index[user.ID] = meetings
	}
	meetings[meetingID] = struct{}{}

	return m.snapshot(), nil
}

// RemoveUser removes user from every meeting it is a member of.
// Returns snapshots of affected meetings taken after removal.
// Meetings left without members are deleted.
func (ms *MemStore) RemoveUser(userID string) []model.Meeting {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	left := make([]model.Meeting, 0, len(ms.index[userID]))
	for meetingID := range ms.index[userID] {
		if snap, ok := ms.removeLocked(meetingID, userID); ok {
			left = append(left, *snap)
		}
	}
	delete(ms.index, userID)
	return left
}

// RemoveUserFromMeeting removes user from particular meeting.
func (ms *MemStore) RemoveUserFromMeeting(meetingID, userID string) (*model.Meeting, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[meetingID]; !ok {
		return nil, ErrMeetingNotFound
	}
	snap, ok := ms.removeLocked(meetingID, userID)
	if !ok {
		return nil, ErrNotAMember
	}
	if meetings, ok := ms.index[userID]; ok {
		delete(meetings, meetingID)
		if len(meetings) == 0 {
			delete(ms.index, userID)
		}
	}
	return snap, nil
}

func (ms *MemStore) removeLocked(meetingID, userID string) (*model.Meeting, bool) {
	m, ok := ms.db[meetingID]
	if !ok {
		return nil, false
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	if !m.dropUser(userID) {
		return nil, false
	}
	if len(m.users) == 0 {
		delete(ms.db, meetingID)
	}
	return m.snapshot(), true
}

// DecideRoles assigns offer/answer roles for pair of meeting members
// if neither side has been decided yet. Roles are assigned once per pair,
// userID gets the offer role if offer() returns true.
// Returns pair state from userID's perspective.
func (ms *MemStore) DecideRoles(meetingID, userID, peerID string, offer func() bool) (model.ConnectionPair, error) {
	var pair model.ConnectionPair
	err := ms.withMembers(meetingID, userID, peerID, func(m *meeting) error {
		userPair := m.getOrCreatePair(userID, peerID)
		peerPair := m.getOrCreatePair(peerID, userID)

		if userPair.State == model.PairStateIdle && peerPair.State == model.PairStateIdle {
			userPair.Role = model.RoleAnswer
			if offer() {
				userPair.Role = model.RoleOffer
			}
			userPair.State = model.PairStateCreated
			peerPair.Role = userPair.Role.Opposite()
			peerPair.State = model.PairStateCreated

			m.setPair(userID, peerID, userPair)
			m.setPair(peerID, userID, peerPair)
		}
		pair = userPair
		return nil
	})
	return pair, err
}

// PairRole returns decided pair state from userID's perspective.
func (ms *MemStore) PairRole(meetingID, userID, peerID string) (model.ConnectionPair, error) {
	var pair model.ConnectionPair
	err := ms.withMembers(meetingID, userID, peerID, func(m *meeting) error {
		userPair := m.getOrCreatePair(userID, peerID)
		peerPair := m.getOrCreatePair(peerID, userID)
		if userPair.State != model.PairStateCreated || peerPair.State != model.PairStateCreated {
			return ErrPairUndecided
		}
		pair = userPair
		return nil
	})
	return pair, err
}

func (ms *MemStore) withMembers(meetingID, userID, peerID string, fn func(m *meeting) error) error {
	if userID == peerID {
		return ErrSelfPair
	}

	ms.mx.RLock()
	defer ms.mx.RUnlock()

	m, ok := ms.db[meetingID]
	if !ok {
		return ErrMeetingNotFound
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	if m.userIndex(userID) < 0 || m.userIndex(peerID) < 0 {
		return ErrNotAMember
	}
	return fn(m)
}
