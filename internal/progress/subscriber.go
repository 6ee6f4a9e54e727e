package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"neuralvault/graphcore/internal/metrics"
)

// State is the connection state of a Subscriber.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source opens push sessions on the progress channel.
type Source interface {
	// Open blocks until the session is connected or fails.
	Open(ctx context.Context) (Session, error)
}

// Session is one live connection.
type Session interface {
	// Events delivers raw event payloads.
	Events() <-chan json.RawMessage
	// Closed yields once when the connection drops.
	Closed() <-chan error
	Close()
}

// DefaultBackoff is the fixed delay between reconnect attempts.
const DefaultBackoff = 2 * time.Second

// Subscriber keeps one session open, reconnecting after a fixed delay for
// as long as its context lives. The reconciled map survives reconnects
// and is reset when Run starts.
type Subscriber struct {
	source     Source
	reconciler *Reconciler
	backoff    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	state   State
	lastErr error
	onState []func(State)
}

// NewSubscriber wires src to r. A non-positive backoff uses DefaultBackoff.
func NewSubscriber(src Source, r *Reconciler, backoff time.Duration, logger *slog.Logger, m *metrics.Metrics) *Subscriber {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		source:     src,
		reconciler: r,
		backoff:    backoff,
		logger:     logger,
		metrics:    m,
		state:      StateDisconnected,
	}
}

// State returns the current state and the error that caused StateError.
func (s *Subscriber) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// OnState registers fn for state transitions.
func (s *Subscriber) OnState(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = append(s.onState, fn)
}

func (s *Subscriber) setState(st State, err error) {
	s.mu.Lock()
	if s.state == st && st != StateError {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.lastErr = err
	listeners := append([]func(State){}, s.onState...)
	s.mu.Unlock()

	s.metrics.ConnectionState(int(st))
	s.logger.Debug("progress channel", "state", st.String(), "error", err)
	for _, fn := range listeners {
		fn(st)
	}
}

// Run subscribes until ctx is cancelled and returns ctx.Err().
func (s *Subscriber) Run(ctx context.Context) error {
	s.reconciler.Reset()
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.metrics.Reconnect()
			select {
			case <-ctx.Done():
				s.setState(StateDisconnected, nil)
				return ctx.Err()
			case <-time.After(s.backoff):
			}
		}

		s.setState(StateConnecting, nil)
		sess, err := s.source.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateDisconnected, nil)
				return ctx.Err()
			}
			s.logger.Warn("progress channel connect failed", "error", err, "retry_in", s.backoff)
			s.setState(StateError, err)
			continue
		}

		s.setState(StateConnected, nil)
		err = s.consume(ctx, sess)
		sess.Close()
		if err != nil {
			s.setState(StateDisconnected, nil)
			return err
		}
	}
}

// consume drains one session. It returns nil when the connection dropped
// and ctx.Err() on cancellation.
func (s *Subscriber) consume(ctx context.Context, sess Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-sess.Events():
			if !ok {
				s.setState(StateDisconnected, nil)
				return nil
			}
			ev, err := DecodeEvent(raw)
			if err != nil {
				s.metrics.ProgressEvent(metrics.OutcomeInvalid)
				s.logger.Warn("dropping progress event", "error", err)
				continue
			}
			s.reconciler.Apply(ev)
		case err := <-sess.Closed():
			if err == nil {
				err = errors.New("connection closed")
			}
			s.logger.Info("progress channel dropped", "reason", err)
			s.setState(StateDisconnected, err)
			return nil
		}
	}
}
