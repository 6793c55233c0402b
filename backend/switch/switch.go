package _switch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adwski/webrtc-meeting/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimout = time.Second
)

var (
	ErrEndpointExists   = errors.New("endpoint is already connected")
	ErrEndpointNotFound = errors.New("endpoint is not connected")
)

type Switch struct {
	logger  zerolog.Logger
	mx      *sync.RWMutex
	fwd     map[string]model.Wire
	rooms   map[string]map[string]struct{}
	timeout time.Duration
}

type Config struct {
	Logger      *zerolog.Logger
	SendTimeout time.Duration
}

func NewSwitch(cfg Config) *Switch {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultFwdTimout
	}
	return &Switch{
		logger:  cfg.Logger.With().Str("component", "switch").Logger(),
		mx:      &sync.RWMutex{},
		fwd:     make(map[string]model.Wire),
		rooms:   make(map[string]map[string]struct{}),
		timeout: timeout,
	}
}

func (sw *Switch) Connect(endpoint string, wire model.Wire) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[endpoint]; ok {
		return ErrEndpointExists
	}
	sw.fwd[endpoint] = wire

	sw.logger.Debug().
		Str("endpoint", endpoint).
		Msg("endpoint connected")
	return nil
}

// Disconnect removes endpoint and its room memberships.
func (sw *Switch) Disconnect(endpoint string) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[endpoint]; !ok {
		return ErrEndpointNotFound
	}
	delete(sw.fwd, endpoint)
	for roomID, members := range sw.rooms {
		delete(members, endpoint)
		if len(members) == 0 {
			delete(sw.rooms, roomID)
		}
	}

	sw.logger.Debug().
		Str("endpoint", endpoint).
		Msg("endpoint disconnected")
	return nil
}

func (sw *Switch) JoinRoom(roomID, endpoint string) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[endpoint]; !ok {
		return ErrEndpointNotFound
	}
	members, ok := sw.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		sw.rooms[roomID] = members
	}
	members[endpoint] = struct{}{}
	return nil
}

func (sw *Switch) LeaveRoom(roomID, endpoint string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	members, ok := sw.rooms[roomID]
	if !ok {
		return
	}
	delete(members, endpoint)
	if len(members) == 0 {
		delete(sw.rooms, roomID)
	}
}

// SendTo delivers announcement to a single endpoint.
func (sw *Switch) SendTo(ctx context.Context, endpoint string, ann model.Announcement) error {
	ann.DST = endpoint

	sw.mx.RLock()
	wire, ok := sw.fwd[endpoint]
	sw.mx.RUnlock()

	if !ok {
		sw.logger.Debug().
			Str("type", ann.Type).
			Str("dst", endpoint).
			Msg("cannot forward, dst not found")
		return ErrEndpointNotFound
	}
	send(ctx, ann, wire.TX, sw.timeout, &sw.logger)
	return nil
}

// BroadcastToRoom delivers announcement to every endpoint in the room.
func (sw *Switch) BroadcastToRoom(ctx context.Context, roomID string, ann model.Announcement) error {
	ann.DST = "" // clear dst just in case

	sw.mx.RLock()
	wires := make([]model.Wire, 0, len(sw.rooms[roomID]))
	for endpoint := range sw.rooms[roomID] {
		wires = append(wires, sw.fwd[endpoint])
	}
	sw.mx.RUnlock()

	var sent bool
	for _, wire := range wires {
		annSent, canceled := send(ctx, ann, wire.TX, sw.timeout, &sw.logger)
		if canceled {
			break
		}
		if annSent {
			sent = true
		}
	}
	if !sent {
		sw.logger.Debug().
			Str("roomID", roomID).
			Str("type", ann.Type).
			Msg("broadcast did not reach anyone")
	}
	return nil
}

func send(
	ctx context.Context,
	ann model.Announcement,
	tx chan<- model.Announcement,
	timeout time.Duration,
	logger *zerolog.Logger,
) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(timeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Str("dst", ann.DST).Str("type", ann.Type).Msg("dead endpoint")
	case tx <- ann:
		logger.Trace().Str("dst", ann.DST).Str("type", ann.Type).Msg("announce is forwarded")
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
