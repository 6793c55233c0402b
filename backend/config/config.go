package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIListenAddr = ":8080"
	defaultWSListenAddr  = ":8888"
	defaultLogLevel      = "debug"
	defaultSendTimeout   = time.Second
	defaultMeetingTTL    = 10 * time.Minute
)

var (
	ErrParseFlags  = errors.New("failed to parse command line arguments")
	ErrReadConfig  = errors.New("failed to read config file")
	ErrInvalidConf = errors.New("invalid configuration")
)

var defaultICEServers = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}

type Config struct {
	APIListenAddr string        `yaml:"api_listen_addr"`
	WSListenAddr  string        `yaml:"ws_listen_addr"`
	LogLevel      string        `yaml:"log_level"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	MeetingTTL    time.Duration `yaml:"meeting_ttl"`
	ICEServers    []ICEServer   `yaml:"ice_servers"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

func defaults() *Config {
	return &Config{
		APIListenAddr: defaultAPIListenAddr,
		WSListenAddr:  defaultWSListenAddr,
		LogLevel:      defaultLogLevel,
		SendTimeout:   defaultSendTimeout,
		MeetingTTL:    defaultMeetingTTL,
		ICEServers:    []ICEServer{{URLs: defaultICEServers}},
	}
}

// Parse builds config from defaults, optional yaml file and command line
// arguments, in that order of precedence (flags win).
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		configFile    = fs.StringP("config", "c", "", "path to yaml config file")
		apiListenAddr = fs.StringP("api-listen-addr", "a", defaultAPIListenAddr, "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", defaultWSListenAddr, "websocket signaling listen address")
		logLevel      = fs.StringP("log-level", "l", defaultLogLevel, "log level")
		sendTimeout   = fs.Duration("send-timeout", defaultSendTimeout, "how long to wait for slow client before dropping message")
		meetingTTL    = fs.Duration("meeting-ttl", defaultMeetingTTL, "how long meeting nobody joined is kept")
		iceServers    = fs.StringSlice("ice-server", nil, "ice server url advertised to clients (repeatable)")
	)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Join(ErrParseFlags, err)
	}

	cfg := defaults()
	if *configFile != "" {
		if err := cfg.load(*configFile); err != nil {
			return nil, err
		}
	}

	if fs.Changed("api-listen-addr") {
		cfg.APIListenAddr = *apiListenAddr
	}
	if fs.Changed("ws-listen-addr") {
		cfg.WSListenAddr = *wsListenAddr
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("send-timeout") {
		cfg.SendTimeout = *sendTimeout
	}
	if fs.Changed("meeting-ttl") {
		cfg.MeetingTTL = *meetingTTL
	}
	if fs.Changed("ice-server") {
		cfg.ICEServers = []ICEServer{{URLs: *iceServers}}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Join(ErrReadConfig, err)
	}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return errors.Join(ErrReadConfig, err)
	}
	return nil
}

func (cfg *Config) validate() error {
	if cfg.APIListenAddr == "" || cfg.WSListenAddr == "" {
		return errors.Join(ErrInvalidConf, errors.New("listen address must not be empty"))
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return errors.Join(ErrInvalidConf, err)
	}
	if cfg.SendTimeout <= 0 {
		return errors.Join(ErrInvalidConf, fmt.Errorf("send timeout must be positive, got %v", cfg.SendTimeout))
	}
	if cfg.MeetingTTL <= 0 {
		return errors.Join(ErrInvalidConf, fmt.Errorf("meeting ttl must be positive, got %v", cfg.MeetingTTL))
	}
	for _, srv := range cfg.ICEServers {
		if len(srv.URLs) == 0 {
			return errors.Join(ErrInvalidConf, errors.New("ice server without urls"))
		}
	}
	return nil
}

// Level returns parsed log level.
func (cfg *Config) Level() zerolog.Level {
	lvl, _ := zerolog.ParseLevel(cfg.LogLevel)
	return lvl
}

// WebRTCICEServers converts configured ice servers to the form advertised to clients.
func (cfg *Config) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	if cfg.MeetingTTL <= 0 {
		return errors.Join(ErrInvalidConf, fmt.Errorf("meeting ttl must be positive, got %v", cfg.MeetingTTL))
	}
	for _, srv := range cfg.ICEServers {
		ice := webrtc.ICEServer{URLs: srv.URLs}
		if srv.Username != "" {
			ice.Username = srv.Username
			ice.Credential = srv.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, ice)
	}
	return out
}
