package memory

import (
	"errors"
	"sync"

	"github.com/adwski/webrtc-meeting/backend/model"
)

var (
	ErrUserNotFound = model.ErrUserNotFound
	ErrUserExists   = errors.New("user already exists")
)

type UserStore struct {
	mx *sync.Mutex
	db map[string]model.User
}

func NewUserStore() *UserStore {
	return &UserStore{
		mx: &sync.Mutex{},
		db: make(map[string]model.User),
	}
}

func (us *UserStore) CreateUser(userID string) (*model.User, error) {
	us.mx.Lock()
	defer us.mx.Unlock()

	if _, ok := us.db[userID]; ok {
		return nil, ErrUserExists
	}
	user := model.User{ID: userID}
	us.db[userID] = user
	return &user, nil
}

func (us *UserStore) GetUser(userID string) (*model.User, error) {
	us.mx.Lock()
	defer us.mx.Unlock()

	user, ok := us.db[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (us *UserStore) SetName(userID, name string) (*model.User, error) {
	us.mx.Lock()
	defer us.mx.Unlock()

	user, ok := us.db[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	user.Name = name
	us.db[userID] = user
	return &user, nil
}

// DeleteUser removes user record, missing user is not an error.
func (us *UserStore) DeleteUser(userID string) {
	us.mx.Lock()
	defer us.mx.Unlock()

	delete(us.db, userID)
}
