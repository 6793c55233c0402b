package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adwski/webrtc-meeting/backend/model"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	maxRequestBodySize = 4096
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type MeetingService interface {
	CreateMeeting(ownerID string) (*model.Meeting, error)
	GetMeeting(meetingID string) (*model.Meeting, error)
	MeetingsCount() int
}

type CreateMeetingRequest struct {
	OwnerID string `json:"owner_id"`
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Meetings int    `json:"meetings"`
}

type Server struct {
	logger     zerolog.Logger
	svc        MeetingService
	iceServers []webrtc.ICEServer
	*http.Server
}

type Config struct {
	Logger         *zerolog.Logger
	MeetingService MeetingService
	ListenAddr     string
	ICEServers     []webrtc.ICEServer
}

func NewServer(cfg Config) *Server {
	iceServers := cfg.ICEServers
	if iceServers == nil {
		iceServers = []webrtc.ICEServer{}
	}
	srv := &Server{
		logger:     cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:        cfg.MeetingService,
		iceServers: iceServers,
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}
	return srv
}

// Handler returns api routes.
func (srv *Server) Handler() http.Handler {
	r := http.NewServeMux()
	r.HandleFunc("POST /api/meetings", srv.createMeeting)
	r.HandleFunc("GET /api/meetings/{meetingID}", srv.getMeeting)
	r.HandleFunc("GET /api/ice-servers", srv.getICEServers)
	r.HandleFunc("GET /healthz", srv.health)
	r.HandleFunc("OPTIONS /", corsHandler)
	return r
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) createMeeting(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	var req CreateMeetingRequest

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	// owner is optional, meeting can be minted before client connects
	if len(body) > 0 {
		if err = json.Unmarshal(body, &req); err != nil {
			srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: "malformed request"})
			return
		}
	}

	meeting, err := srv.svc.CreateMeeting(req.OwnerID)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to create meeting")
		srv.writeJSON(w, http.StatusInternalServerError, &GenericResponse{Error: err.Error()})
		return
	}
	srv.logger.Trace().Str("meetingID", meeting.ID).Msg("meeting minted")
	srv.writeJSON(w, http.StatusCreated, &model.MeetingCreated{ID: meeting.ID})
}

func (srv *Server) getMeeting(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	meeting, err := srv.svc.GetMeeting(r.PathValue("meetingID"))
	if err != nil {
		if errors.Is(err, model.ErrMeetingNotFound) {
			srv.writeJSON(w, http.StatusNotFound, &GenericResponse{Error: model.ErrMeetingNotFound.Error()})
			return
		}
		srv.writeJSON(w, http.StatusInternalServerError, &GenericResponse{Error: err.Error()})
		return
	}
	srv.writeJSON(w, http.StatusOK, meeting)
}

func (srv *Server) getICEServers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	srv.writeJSON(w, http.StatusOK, srv.iceServers)
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	srv.writeJSON(w, http.StatusOK, &HealthResponse{
		Status:   "ok",
		Meetings: srv.svc.MeetingsCount(),
	})
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error, 1)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
