package rtspgw

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/rtspgw/handler"
	"github.com/opd-ai/rtspgw/limits"
	"github.com/opd-ai/rtspgw/pipeline"
	"github.com/opd-ai/rtspgw/relay"
	"github.com/opd-ai/rtspgw/scheduler"
	"github.com/opd-ai/rtspgw/secure"
	"github.com/opd-ai/rtspgw/statistics"
)

// Options contains the configuration of a Gateway.
type Options struct {
	// ListenAddr is the shared UDP socket every session is multiplexed on.
	ListenAddr string `yaml:"listen_addr"`

	// Workers and QueueSize size the scheduler pool running RTCP timers.
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// SessionBandwidth is the per session bandwidth in bits per second.
	SessionBandwidth float64 `yaml:"session_bandwidth"`
	// RTCPFraction is the share of SessionBandwidth spent on RTCP.
	RTCPFraction float64 `yaml:"rtcp_fraction"`
	// SweepPeriod is the period of the sender timeout sweep.
	SweepPeriod time.Duration `yaml:"sweep_period"`

	Priorities Priorities `yaml:"priorities"`

	// MaxPacketSize caps the datagrams the gateway sends.
	MaxPacketSize int `yaml:"max_packet_size"`

	// Software is advertised in STUN binding responses. Empty omits it.
	Software string `yaml:"software"`

	LogLevel string `yaml:"log_level"`

	// Sessions are opened when the gateway starts from the command line.
	Sessions []SessionOptions `yaml:"sessions"`
}

// SessionOptions is the file form of a SessionConfig.
type SessionOptions struct {
	ID string `yaml:"id"`
	// Remote is host:port, or host:0 to latch onto the first source port.
	Remote  string          `yaml:"remote"`
	Audio   bool            `yaml:"audio"`
	Targets []TargetOptions `yaml:"targets"`
	// Secret enables pre-shared SRTP keying when set.
	Secret   string `yaml:"secret"`
	IsClient bool   `yaml:"is_client"`
}

// TargetOptions is the file form of a relay.Target.
type TargetOptions struct {
	RTP  string `yaml:"rtp"`
	RTCP string `yaml:"rtcp"`
}

// Priorities orders the protocol handlers of a session pipeline.
type Priorities struct {
	STUN int `yaml:"stun"`
	DTLS int `yaml:"dtls"`
	RTCP int `yaml:"rtcp"`
	RTP  int `yaml:"rtp"`
}

// Configuration errors.
var (
	ErrInvalidWorkers       = errors.New("workers must be positive")
	ErrInvalidQueueSize     = errors.New("queue size must be positive")
	ErrInvalidBandwidth     = errors.New("session bandwidth must be positive")
	ErrInvalidRTCPFraction  = errors.New("rtcp fraction must be in (0, 1]")
	ErrInvalidSweepPeriod   = errors.New("sweep period must be positive")
	ErrInvalidPacketSize    = errors.New("max packet size out of range")
	ErrPriorityOrder        = errors.New("rtcp priority must be above rtp priority")
	ErrMissingListenAddress = errors.New("listen address cannot be empty")
)

// NewOptions creates a new default options.
func NewOptions() *Options {
	return &Options{
		ListenAddr:       "0.0.0.0:5004",
		Workers:          scheduler.DefaultConfig().Workers,
		QueueSize:        scheduler.DefaultConfig().QueueSize,
		SessionBandwidth: statistics.DefaultSessionBandwidth,
		RTCPFraction:     statistics.DefaultRTCPFraction,
		SweepPeriod:      handler.DefaultSweepPeriod,
		Priorities: Priorities{
			STUN: pipeline.DefaultSTUNPriority,
			DTLS: secure.DefaultDTLSPriority,
			RTCP: handler.DefaultRTCPPriority,
			RTP:  relay.DefaultRTPPriority,
		},
		MaxPacketSize: limits.MaxDatagramSize,
		Software:      "rtspgw",
		LogLevel:      "info",
	}
}

// LoadOptions reads a YAML file over the defaults and validates the result.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}

	options := NewOptions()
	if err := yaml.Unmarshal(data, options); err != nil {
		return nil, fmt.Errorf("parse options %s: %w", path, err)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadOptions",
		"path":     path,
		"listen":   options.ListenAddr,
	}).Debug("Loaded gateway options")

	return options, nil
}

// Validate checks the options for values the gateway cannot run with.
func (o *Options) Validate() error {
	switch {
	case o.ListenAddr == "":
		return ErrMissingListenAddress
	case o.Workers <= 0:
		return ErrInvalidWorkers
	case o.QueueSize <= 0:
		return ErrInvalidQueueSize
	case o.SessionBandwidth <= 0:
		return ErrInvalidBandwidth
	case o.RTCPFraction <= 0 || o.RTCPFraction > 1:
		return ErrInvalidRTCPFraction
	case o.SweepPeriod <= 0:
		return ErrInvalidSweepPeriod
	case o.MaxPacketSize < limits.MinRTPPacketSize || o.MaxPacketSize > limits.MaxDatagramSize:
		return fmt.Errorf("%w: %d", ErrInvalidPacketSize, o.MaxPacketSize)
	case o.Priorities.RTCP <= o.Priorities.RTP:
		return ErrPriorityOrder
	}

	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (o *Options) Level() logrus.Level {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Config resolves the addresses of s into a SessionConfig.
func (s SessionOptions) Config() (*SessionConfig, error) {
	remote, err := net.ResolveUDPAddr("udp", s.Remote)
	if err != nil {
		return nil, fmt.Errorf("session %q remote: %w", s.ID, err)
	}

	config := &SessionConfig{
		ID:       s.ID,
		Remote:   remote,
		Audio:    s.Audio,
		IsClient: s.IsClient,
	}
	if s.Secret != "" {
		config.Secure = SecurePreShared
		config.Secret = []byte(s.Secret)
	}

	for _, t := range s.Targets {
		var target relay.Target
		if t.RTP != "" {
			if target.RTP, err = net.ResolveUDPAddr("udp", t.RTP); err != nil {
				return nil, fmt.Errorf("session %q target: %w", s.ID, err)
			}
		}
		if t.RTCP != "" {
			if target.RTCP, err = net.ResolveUDPAddr("udp", t.RTCP); err != nil {
				return nil, fmt.Errorf("session %q target: %w", s.ID, err)
			}
		}
		config.Targets = append(config.Targets, target)
	}
	return config, nil
}

func (o *Options) statisticsConfig() *statistics.Config {
	config := statistics.DefaultConfig()
	config.SessionBandwidth = o.SessionBandwidth
	config.RTCPFraction = o.RTCPFraction
	return config
}
