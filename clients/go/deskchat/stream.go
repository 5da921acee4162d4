package deskchat

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler receives one streamed event.
type Handler func(Event)

// HandlerID identifies a registration made with On.
type HandlerID uint64

// EventChannel is the real-time subscription surface the Engine consumes.
type EventChannel interface {
	Connect(ctx context.Context, url string) error
	Disconnect() error
	On(name string, h Handler) HandlerID
	Off(name string, id HandlerID)
}

// ErrAlreadyConnected is returned by Connect on a connected stream.
var ErrAlreadyConnected = errors.New("stream already connected")

type registration struct {
	id HandlerID
	fn Handler
}

// Stream is an EventChannel over a websocket. Frames are decoded into
// Events and handed to the handlers registered for their type, in
// registration order, on the stream's read goroutine.
type Stream struct {
	Dialer *websocket.Dialer

	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[string][]registration
	nextID   HandlerID
	conn     *websocket.Conn
	done     chan struct{}
}

var _ EventChannel = (*Stream)(nil)

// NewStream returns a disconnected stream.
func NewStream(logger zerolog.Logger) *Stream {
	return &Stream{
		Dialer:   websocket.DefaultDialer,
		logger:   logger,
		handlers: make(map[string][]registration),
	}
}

// On registers h for events named name.
func (s *Stream) On(name string, h Handler) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.handlers[name] = append(s.handlers[name], registration{id: s.nextID, fn: h})
	return s.nextID
}

// Off removes a registration. Unknown ids are ignored.
func (s *Stream) Off(name string, id HandlerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs := slices.DeleteFunc(slices.Clone(s.handlers[name]), func(r registration) bool { return r.id == id })
	if len(regs) == 0 {
		delete(s.handlers, name)
		return
	}
	s.handlers[name] = regs
}

// Connect dials url and starts delivering events.
func (s *Stream) Connect(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return ErrAlreadyConnected
	}

	conn, resp, err := s.Dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	s.conn = conn
	s.done = make(chan struct{})
	go s.readLoop(conn, s.done)

	s.logger.Debug().Str("url", redactToken(url)).Msg("stream connected")
	return nil
}

// Disconnect closes the connection and waits for the read goroutine to
// stop. It is a no-op on a disconnected stream.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	return err
}

// Done is closed when the current connection's read loop exits, for
// whatever reason. It is nil before the first Connect.
func (s *Stream) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Stream) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("stream closed")
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Stream) dispatch(ev Event) {
	s.mu.Lock()
	regs := s.handlers[ev.Type]
	s.mu.Unlock()

	for _, r := range regs {
		r.fn(ev)
	}
}

// redactToken strips the query string, which carries the session token.
func redactToken(url string) string {
	base, _, _ := strings.Cut(url, "?")
	return base
}
