package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEvent is the event name the processing pipeline emits.
const DefaultEvent = "parse-progress"

// SocketIOSource opens progress sessions on a socket.io server. The
// client's own reconnection is disabled; Subscriber owns retries.
type SocketIOSource struct {
	URL       string
	Namespace string
	Event     string
	Logger    *slog.Logger
}

// Open implements Source.
func (s SocketIOSource) Open(ctx context.Context) (Session, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("url", s.URL, "namespace", s.Namespace)

	parsedURL, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing progress URL: %w", err)
	}
	event := s.Event
	if event == "" {
		event = DefaultEvent
	}
	namespace := s.Namespace
	if namespace == "" {
		namespace = "/"
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))
	opts.SetReconnection(false)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	sess := &socketSession{
		io:     io,
		events: make(chan json.RawMessage, 64),
		closed: make(chan error, 1),
		done:   make(chan struct{}),
	}
	connected := make(chan error, 1)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("progress channel connected", "sid", io.Id())
		select {
		case connected <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})
	io.On(types.EventName(event), func(data ...any) {
		if len(data) == 0 {
			return
		}
		raw, err := json.Marshal(data[0])
		if err != nil {
			logger.Warn("unencodable progress payload", "error", err)
			return
		}
		sess.deliver(raw)
	})
	io.On(types.EventName("disconnect"), func(reason ...any) {
		sess.drop(fmt.Errorf("disconnected: %v", reason))
	})

	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return sess, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	}
}

type socketSession struct {
	io     *socket.Socket
	events chan json.RawMessage
	closed chan error
	done   chan struct{}
	once   sync.Once
}

func (s *socketSession) Events() <-chan json.RawMessage { return s.events }
func (s *socketSession) Closed() <-chan error           { return s.closed }

func (s *socketSession) deliver(raw json.RawMessage) {
	select {
	case s.events <- raw:
	case <-s.done:
	}
}

func (s *socketSession) drop(err error) {
	select {
	case s.closed <- err:
	default:
	}
}

func (s *socketSession) Close() {
	s.once.Do(func() {
		close(s.done)
		s.io.Disconnect()
	})
}
