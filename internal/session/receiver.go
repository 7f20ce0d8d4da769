package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/wsharness/internal/integrity"
	"github.com/danmuck/wsharness/internal/observability"
	"github.com/danmuck/wsharness/internal/protocol/envelope"
	"github.com/danmuck/wsharness/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDigestMismatch = fmt.Errorf("%w: djb2 digest mismatch", envelope.ErrMalformedEnvelope)
	ErrNoStore        = errors.New("session: receiver has no store")
)

// ReceiverConfig controls the receiver pipeline policy.
type ReceiverConfig struct {
	Store store.Store

	// GateOnDigest rejects frames whose content does not hash to djb2_hash.
	// When false the mismatch is logged and the content is stored anyway.
	GateOnDigest bool

	// AckOnStoreError still acknowledges a frame whose store write failed.
	// The wire protocol has no error reply, so the peer cannot tell.
	AckOnStoreError bool

	// WriteTimeout bounds one store write. Zero means unbounded.
	WriteTimeout time.Duration
}

// DefaultReceiverConfig gates on the digest and acks regardless of store
// outcome.
func DefaultReceiverConfig(st store.Store) ReceiverConfig {
	return ReceiverConfig{
		Store:           st,
		GateOnDigest:    true,
		AckOnStoreError: true,
	}
}

// ReceiverSession runs decode -> verify -> store -> ack for every frame.
// Frames are independent of each other.
type ReceiverSession struct {
	id     string
	cfg    ReceiverConfig
	logger zerolog.Logger

	received uint64
	acked    uint64
}

var _ Session = (*ReceiverSession)(nil)

func NewReceiverSession(connID string, cfg ReceiverConfig) *ReceiverSession {
	return &ReceiverSession{
		id:     connID,
		cfg:    cfg,
		logger: log.Logger.With().Str("conn", connID).Str("role", string(RoleReceiver)).Logger(),
	}
}

// NewReceiverFactory returns a Factory creating one ReceiverSession per
// connection. All sessions share cfg.Store.
func NewReceiverFactory(cfg ReceiverConfig) Factory {
	return func(connID string) Session {
		return NewReceiverSession(connID, cfg)
	}
}

func (s *ReceiverSession) ID() string { return s.id }

func (s *ReceiverSession) Role() Role { return RoleReceiver }

// Stats returns received and acknowledged frame counts.
func (s *ReceiverSession) Stats() (received, acked uint64) {
	return s.received, s.acked
}

func (s *ReceiverSession) HandleFrame(ctx context.Context, raw []byte) (any, error) {
	s.received++
	s.logger.Debug().Int("size", len(raw)).Msg("received message")

	env, err := envelope.DecodeTransfer(raw)
	if err != nil {
		return s.reject(err, "-", observability.OutcomeMalformed)
	}
	id := env.IDString()

	content, err := env.Bytes()
	if err != nil {
		return s.reject(err, id, observability.OutcomeMalformed)
	}

	computed := integrity.Sum(content)
	s.logger.Debug().
		Str("id", id).
		Int("content_size", len(content)).
		Stringer("computed_hash", computed).
		Stringer("reference_hash", *env.Digest).
		Msg("content digest")
	if computed != *env.Digest {
		if s.cfg.GateOnDigest {
			err := fmt.Errorf("%w: computed=%s reference=%s", ErrDigestMismatch, computed, *env.Digest)
			return s.reject(err, id, observability.OutcomeMismatch)
		}
		s.logger.Warn().Str("id", id).Msg("digest mismatch ignored")
	}

	if err := s.write(ctx, env.Name(), content); err != nil {
		s.logger.Error().Err(err).Str("id", id).Str("filename", env.Name()).Msg("store write failed")
		observability.RecordFrame(string(RoleReceiver), observability.OutcomeStoreFailed)
		if !s.cfg.AckOnStoreError {
			return nil, err
		}
	}

	s.acked++
	s.logger.Info().Str("id", id).Str("filename", env.Name()).Int("bytes", len(content)).Msg("message acknowledged")
	observability.RecordFrame(string(RoleReceiver), observability.OutcomeAcked)
	return envelope.AckFor(env), nil
}

func (s *ReceiverSession) write(ctx context.Context, name string, content []byte) error {
	if s.cfg.Store == nil {
		return ErrNoStore
	}
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}
	start := time.Now()
	err := s.cfg.Store.Write(ctx, name, content)
	observability.RecordStoreWrite(len(content), time.Since(start), err == nil)
	return err
}

func (s *ReceiverSession) reject(err error, id, outcome string) (any, error) {
	s.logger.Warn().Err(err).Str("id", id).Msg("message rejected")
	observability.RecordFrame(string(RoleReceiver), outcome)
	return nil, err
}
