package session

import (
	"context"
	"strings"

	"github.com/danmuck/wsharness/internal/observability"
	"github.com/danmuck/wsharness/internal/protocol/envelope"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the handshake simulator progress of one connection.
type State int

const (
	StateInit State = iota
	StateHandshakeSent
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Observer receives pass-through frames once a connection is authenticated.
type Observer func(connID string, raw []byte)

// HandshakeConfig configures the values echoed by the simulator.
type HandshakeConfig struct {
	Nonce    string
	Version  string
	Observer Observer
}

// DefaultHandshakeConfig returns the platform values the simulator has
// always advertised.
func DefaultHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{
		Nonce:   envelope.DefaultNonce,
		Version: envelope.DefaultVersion,
	}
}

// WithDefaults fills empty fields from DefaultHandshakeConfig.
func (c HandshakeConfig) WithDefaults() HandshakeConfig {
	def := DefaultHandshakeConfig()
	if strings.TrimSpace(c.Nonce) == "" {
		c.Nonce = def.Nonce
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = def.Version
	}
	return c
}

// HandshakeSession is the scripted two-step auth sequence. Transitions follow
// arrival order only; frame content is never inspected.
type HandshakeSession struct {
	id       string
	cfg      HandshakeConfig
	state    State
	observed uint64
	logger   zerolog.Logger
}

var _ Session = (*HandshakeSession)(nil)

func NewHandshakeSession(connID string, cfg HandshakeConfig) *HandshakeSession {
	return &HandshakeSession{
		id:     connID,
		cfg:    cfg.WithDefaults(),
		state:  StateInit,
		logger: log.Logger.With().Str("conn", connID).Str("role", string(RoleHandshake)).Logger(),
	}
}

// NewHandshakeFactory returns a Factory creating one HandshakeSession per
// connection.
func NewHandshakeFactory(cfg HandshakeConfig) Factory {
	cfg = cfg.WithDefaults()
	return func(connID string) Session {
		return NewHandshakeSession(connID, cfg)
	}
}

func (s *HandshakeSession) ID() string { return s.id }

func (s *HandshakeSession) Role() Role { return RoleHandshake }

// State returns current progress.
func (s *HandshakeSession) State() State { return s.state }

// Observed returns how many pass-through frames were seen after auth.
func (s *HandshakeSession) Observed() uint64 { return s.observed }

func (s *HandshakeSession) HandleFrame(_ context.Context, raw []byte) (any, error) {
	switch s.state {
	case StateInit:
		s.state = StateHandshakeSent
		s.logger.Info().Str("state", s.state.String()).Msg("handshake acknowledged")
		observability.RecordFrame(string(RoleHandshake), observability.OutcomeReplied)
		return envelope.HandshakeOK(s.cfg.Nonce, s.cfg.Version), nil
	case StateHandshakeSent:
		s.state = StateAuthenticated
		s.logger.Info().Str("state", s.state.String()).Msg("authentication acknowledged")
		observability.RecordFrame(string(RoleHandshake), observability.OutcomeReplied)
		return envelope.AuthenticateOK(), nil
	default:
		s.observed++
		s.observe(raw)
		observability.RecordFrame(string(RoleHandshake), observability.OutcomeObserved)
		return nil, nil
	}
}

func (s *HandshakeSession) observe(raw []byte) {
	event := s.logger.Info().Uint64("seq", s.observed).Int("size", len(raw))
	if env, err := envelope.DecodeHandshake(raw); err == nil && env.Action != "" {
		event = event.Str("action", env.Action)
	}
	event.Str("data", string(raw)).Msg("pass-through frame")
	if s.cfg.Observer != nil {
		s.cfg.Observer(s.id, raw)
	}
}
