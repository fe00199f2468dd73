package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/keel/protocol"
)

var (
	// ErrInvalidRequest is returned when SendRequest is handed a nil
	// payload.
	ErrInvalidRequest = errors.New("request payload must be an object")

	// ErrConnectionTimeout surfaces on the error feed when the watchdog
	// closes a socket that never reached the Open state.
	ErrConnectionTimeout = errors.New("connection watchdog expired")
)

// State is the stream connection state.
type State string

const (
	StateClosed     State = "closed"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
)

// Subscribe query parameter values understood by the server.
const (
	SubscribeAll  = "all"
	SubscribeSelf = "self"
	SubscribeNone = "none"
)

// Stream is the WebSocket transport. It wraps at most one socket at a
// time; opening a new one implicitly closes any prior one first.
//
// Connection failures are never returned synchronously: they surface on
// the error and close event feeds, so a caller that registers no
// listener observes nothing.
type Stream struct {
	session *Session
	events  *listeners
	dialer  *websocket.Dialer
	timeout time.Duration
	log     *zap.Logger

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	generation uint64
	watchdog   *time.Timer

	selfID     string
	playback   bool
	filter     string
	filterSelf bool
}

// NewStream creates a stream transport in the Closed state.
func NewStream(options Options) *Stream {
	log := options.log().Named("stream")

	return &Stream{
		session: options.session(),
		events:  newListeners(log),
		dialer:  websocket.DefaultDialer,
		timeout: options.watchdog(),
		log:     log,
		state:   StateClosed,
	}
}

// Listen registers a new listener channel on the named event feed.
// Every listener receives every event independently.
func (s *Stream) Listen(name EventName) <-chan Event {
	return s.events.listen(name)
}

// Open connects to the given WebSocket URL, closing any prior socket
// first. subscribe and token are appended as query parameters; the
// session token is checked first, so a supplied token only applies when
// the session has none.
//
// Open returns immediately after initiating the connect. The watchdog
// forcibly closes the socket if it has not reached Open (or closed on
// its own) when the timeout fires.
func (s *Stream) Open(rawURL, subscribe, token string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("stream url: %w", err)
	}

	q := u.Query()
	if subscribe != "" {
		q.Set("subscribe", subscribe)
	}

	if t := s.session.Token(); t != "" {
		q.Set("token", t)
	} else if token != "" {
		q.Set("token", token)
	}

	u.RawQuery = q.Encode()

	s.mu.Lock()
	s.closeLocked()
	gen := s.generation
	s.state = StateConnecting
	s.watchdog = time.AfterFunc(s.timeout, func() { s.expireWatchdog(gen) })
	s.mu.Unlock()

	s.log.Debug("opening stream", zap.String("url", u.Redacted()))
	go s.dial(gen, u.String())

	return nil
}

// Close closes and discards the socket. Subsequent IsOpen reads false.
func (s *Stream) Close() error {
	s.mu.Lock()
	had := s.closeLocked()
	s.mu.Unlock()

	if had {
		s.events.emit(Event{Name: EventClose})
	}

	return nil
}

// IsOpen reports whether the socket is in the Open state.
func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state == StateOpen
}

// State returns the connection state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// SelfID returns the server's self identity captured from the hello
// frame, or "" before one arrives.
func (s *Stream) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selfID
}

// InPlayback reports whether the hello frame announced a playback
// stream.
func (s *Stream) InPlayback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playback
}

// SetFilter restricts delta emission to a single vessel. A value
// containing "self" resolves to the currently known self identity,
// which is empty until the hello arrives and leaves deltas unfiltered
// until then. An empty value clears filtering.
func (s *Stream) SetFilter(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case v == "":
		s.filter = ""
		s.filterSelf = false

	case strings.Contains(v, "self"):
		s.filterSelf = true
		s.filter = s.selfID

	default:
		s.filterSelf = false
		s.filter = v
	}
}

// Send transmits data on the open socket. Strings and byte slices go
// out as-is; anything else is JSON serialised. Send is a no-op when no
// socket is open.
func (s *Stream) Send(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sendLocked(data)
}

// SendRequest builds a request envelope around the caller's payload and
// transmits it, returning the generated request identifier so the
// caller can correlate the eventual response frame.
//
// The session token is attached automatically unless the payload is
// itself a login request, along with the client identifier when one is
// set. Caller supplied keys are merged over the envelope and win.
func (s *Stream) SendRequest(value map[string]interface{}) (string, error) {
	if value == nil {
		return "", ErrInvalidRequest
	}

	envelope := protocol.RequestEnvelope()
	requestID, _ := envelope["requestId"].(string)

	doc := []byte(`{}`)

	var err error
	set := func(key string, v interface{}) {
		if err != nil {
			return
		}
		doc, err = sjson.SetBytes(doc, key, v)
	}

	set("requestId", requestID)

	if _, isLogin := value["login"]; !isLogin {
		if token := s.session.Token(); token != "" {
			set("token", token)
		}
	}

	if id := s.session.ClientID(); id != "" {
		set("clientId", id)
	}

	for key, v := range value {
		set(key, v)
	}

	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	s.mu.Lock()
	err = s.sendLocked(doc)
	s.mu.Unlock()

	return requestID, err
}

// Put sends a put request for a path under the given vessel context.
func (s *Stream) Put(vctx, path string, value interface{}) (string, error) {
	return s.SendRequest(map[string]interface{}{
		"context": protocol.NormalizeContext(vctx),
		"put": map[string]interface{}{
			"path":  path,
			"value": value,
		},
	})
}

// Subscribe sends a subscribe envelope for the given subscriptions.
func (s *Stream) Subscribe(vctx string, subs ...protocol.Subscription) error {
	entries := make([]interface{}, 0, len(subs))
	for _, sub := range subs {
		entries = append(entries, sub.Entry())
	}

	envelope := protocol.SubscribeEnvelope()
	envelope["context"] = protocol.NormalizeContext(vctx)
	envelope["subscribe"] = entries

	return s.Send(envelope)
}

// Unsubscribe sends an unsubscribe envelope for the given paths.
func (s *Stream) Unsubscribe(vctx string, paths ...string) error {
	entries := make([]interface{}, 0, len(paths))
	for _, path := range paths {
		entries = append(entries, map[string]interface{}{"path": path})
	}

	envelope := protocol.UnsubscribeEnvelope()
	envelope["context"] = protocol.NormalizeContext(vctx)
	envelope["unsubscribe"] = entries

	return s.Send(envelope)
}

// RaiseAlarm puts the alarm value under a notifications path, mirroring
// the REST transport but dispatched over the socket.
func (s *Stream) RaiseAlarm(vctx, name string, alarm protocol.Alarm) (string, error) {
	if err := alarm.Validate(); err != nil {
		return "", err
	}

	return s.Put(vctx, protocol.NotificationPath(name), alarm.Value())
}

// ClearAlarm puts null under the alarm's notifications path.
func (s *Stream) ClearAlarm(vctx, name string) (string, error) {
	return s.Put(vctx, protocol.NotificationPath(name), nil)
}

// closeLocked tears down the current socket, cancels the watchdog and
// bumps the generation so in-flight dials and read loops for the old
// socket discover they have been superseded. Callers hold s.mu. It
// reports whether there was a live or connecting socket to close.
func (s *Stream) closeLocked() bool {
	s.generation++

	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}

	had := s.state != StateClosed

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	s.state = StateClosed

	return had
}

func (s *Stream) dial(gen uint64, url string) {
	conn, resp, err := s.dialer.Dial(url, nil) //nolint:bodyclose
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s.mu.Lock()

	if s.generation != gen || s.state != StateConnecting {
		// Superseded while dialling. The new socket owns the event
		// feeds now, so this one goes away without a trace.
		s.mu.Unlock()

		if conn != nil {
			conn.Close()
		}

		return
	}

	if err != nil {
		s.closeLocked()
		s.mu.Unlock()

		s.log.Debug("stream dial failed", zap.Error(err))
		s.events.emit(Event{Name: EventError, Err: err})
		s.events.emit(Event{Name: EventClose, Err: err})

		return
	}

	s.conn = conn
	s.state = StateOpen

	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}

	s.mu.Unlock()

	s.log.Debug("stream open")
	s.events.emit(Event{Name: EventConnect})

	go s.readLoop(gen, conn)
}

func (s *Stream) expireWatchdog(gen uint64) {
	s.mu.Lock()

	if s.generation != gen || s.state != StateConnecting {
		// The socket reached Open or closed on its own first.
		s.mu.Unlock()
		return
	}

	s.log.Warn("connection watchdog expired, forcing close",
		zap.Duration("timeout", s.timeout))

	s.closeLocked()
	s.mu.Unlock()

	s.events.emit(Event{Name: EventError, Err: ErrConnectionTimeout})
	s.events.emit(Event{Name: EventClose, Err: ErrConnectionTimeout})
}

func (s *Stream) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()

			if s.generation != gen {
				// Superseded; the closure was already reported.
				s.mu.Unlock()
				return
			}

			s.closeLocked()
			s.mu.Unlock()

			s.events.emit(Event{Name: EventError, Err: err})
			s.events.emit(Event{Name: EventClose, Err: err})

			return
		}

		s.handleFrame(data)
	}
}

// handleFrame classifies an inbound frame and emits it on the message
// feed. Hello and response handling run before delta filtering; see
// protocol.Classify for the cascade.
func (s *Stream) handleFrame(data []byte) {
	frame, ok := protocol.Classify(data)
	if !ok {
		// Malformed JSON frames are dropped without an error event.
		return
	}

	switch frame.Kind {
	case protocol.KindHello:
		s.mu.Lock()
		s.selfID = frame.Self()
		s.playback = frame.Playback()
		if s.filterSelf {
			s.filter = s.selfID
		}
		s.mu.Unlock()

	case protocol.KindResponse:
		if token := frame.LoginToken(); token != "" {
			s.session.SetToken(token)
		}

	case protocol.KindDelta:
		s.mu.Lock()
		filter := s.filter
		s.mu.Unlock()

		if filter != "" && frame.Context() != filter {
			return
		}
	}

	s.events.emit(Event{Name: EventMessage, Frame: frame})
}

func (s *Stream) sendLocked(data interface{}) error {
	if s.state != StateOpen || s.conn == nil {
		// No open socket; sends are deliberately a no-op.
		return nil
	}

	var payload []byte

	switch v := data.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		var err error
		if payload, err = json.Marshal(v); err != nil {
			return fmt.Errorf("serialising frame: %w", err)
		}
	}

	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
