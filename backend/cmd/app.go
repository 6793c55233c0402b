package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/webrtc-meeting/backend/config"
	httpServer "github.com/adwski/webrtc-meeting/backend/server/http"
	websocketServer "github.com/adwski/webrtc-meeting/backend/server/websocket"
	"github.com/adwski/webrtc-meeting/backend/service"
	store "github.com/adwski/webrtc-meeting/backend/storage/memory"
	sw "github.com/adwski/webrtc-meeting/backend/switch"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure")
	}
	logger = logger.Level(cfg.Level())

	svc := service.NewService(service.Config{
		UserStore:    store.NewUserStore(),
		MeetingStore: store.NewMemStore(),
		Switch: sw.NewSwitch(sw.Config{
			Logger:      &logger,
			SendTimeout: cfg.SendTimeout,
		}),
		Logger:     &logger,
		MeetingTTL: cfg.MeetingTTL,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:         &logger,
		MeetingService: svc,
		ListenAddr:     cfg.APIListenAddr,
		ICEServers:     cfg.WebRTCICEServers(),
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:           &logger,
		SignalingService: svc,
		ListenAddr:       cfg.WSListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go svc.Run(ctx, wg)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
