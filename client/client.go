package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/keel/transport"
)

var (
	// ErrNoEndpoint is returned when an operation needs an endpoint that
	// discovery could not resolve.
	ErrNoEndpoint = errors.New("no endpoint available")

	// ErrMissingCredentials is returned by Login when no username or
	// password is configured.
	ErrMissingCredentials = errors.New("username and password are required")
)

// Client is a Signal K client: one discovery surface, one REST
// transport and one stream transport sharing a single session.
type Client struct {
	options Options

	session *transport.Session
	rest    *transport.REST
	stream  *transport.Stream
	http    *http.Client
	log     *zap.Logger

	mu         sync.Mutex
	server     ServerInfo
	wsEndpoint string
	connected  bool
}

// New creates a client for the server located by options. Nothing
// touches the network until Discover or Connect.
func New(options Options) *Client {
	log := options.log().Named("signalk")

	session := transport.NewSession()
	session.SetVersion(options.version())
	session.SetToken(options.Token)
	session.SetClientID(options.ClientID)

	shared := transport.Options{
		Session:           session,
		ConnectionTimeout: options.ConnectionTimeout,
		Log:               log,
	}

	return &Client{
		options: options,
		session: session,
		rest:    transport.NewREST(shared),
		stream:  transport.NewStream(shared),
		http:    &http.Client{Timeout: transport.DefaultHTTPTimeout},
		log:     log,
	}
}

// REST returns the REST transport, wired to the discovered endpoint
// after a successful Connect.
func (c *Client) REST() *transport.REST {
	return c.rest
}

// Stream returns the stream transport.
func (c *Client) Stream() *transport.Stream {
	return c.stream
}

// Session returns the shared session.
func (c *Client) Session() *transport.Session {
	return c.session
}

// Server returns the server info captured by the last discovery.
func (c *Client) Server() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.server
}

// APIVersions returns the version labels the server advertised, in
// the order they appeared in the discovery document.
func (c *Client) APIVersions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.server.APIVersions
}

// SetVersion selects an API major version. While no versions have been
// discovered yet it is accepted unconditionally; afterwards it is only
// accepted when the server advertised it, and the previous selection is
// silently retained otherwise.
func (c *Client) SetVersion(major int) {
	c.mu.Lock()

	if len(c.server.APIVersions) > 0 && !c.server.advertises(major) {
		c.mu.Unlock()
		c.log.Debug("ignoring unsupported version selection", zap.Int("version", major))

		return
	}

	c.mu.Unlock()
	c.session.SetVersion(major)
}

// Connect discovers the server and wires both transports to the
// resolved endpoints. When discovery fails and the Fallback option is
// set, endpoints are synthesized from the configured host and port
// instead; otherwise all server state is cleared and the failure is
// returned.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Discover(ctx); err != nil {
		if !c.options.Fallback {
			c.clear()
			return err
		}

		c.log.Info("discovery failed, falling back to synthesized endpoints", zap.Error(err))

		c.mu.Lock()
		c.server = ServerInfo{
			Endpoints:   c.synthesizeEndpoints([]string{"v1"}),
			APIVersions: []string{"v1"},
		}
		c.mu.Unlock()
	}

	// Best effort login status probe; the result only warms the session
	// state and failures are irrelevant here.
	go func() {
		_, _ = c.IsLoggedIn(context.Background())
	}()

	if err := c.stream.Close(); err != nil {
		c.log.Warn("closing previous stream", zap.Error(err))
	}

	c.rest.SetEndpoint(c.ResolveHTTPEndpoint())

	c.mu.Lock()
	c.wsEndpoint = c.resolveLocked(func(e Endpoint) string { return e.WSURL })
	c.connected = true
	c.mu.Unlock()

	return nil
}

// ConnectStream connects and opens the stream with the given subscribe
// mode (transport.SubscribeAll, SubscribeSelf or SubscribeNone). It
// fails when no WebSocket endpoint can be resolved.
func (c *Client) ConnectStream(ctx context.Context, subscribe string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	endpoint := c.wsEndpoint
	c.mu.Unlock()

	if endpoint == "" {
		return fmt.Errorf("opening stream: %w", ErrNoEndpoint)
	}

	return c.stream.Open(endpoint, subscribe, c.options.Token)
}

// PlaybackOptions shape a historical playback stream.
type PlaybackOptions struct {
	// StartTime is the RFC 3339 instant playback starts from. Required.
	StartTime string

	// Rate is the playback speed multiplier. Zero means realtime.
	Rate float64

	// Subscribe is the subscribe query parameter value.
	Subscribe string
}

// ConnectPlayback connects and opens a playback stream: the resolved
// stream URL's path segment is rewritten from "stream" to "playback"
// and the start time and rate are appended as query parameters.
func (c *Client) ConnectPlayback(ctx context.Context, options PlaybackOptions) error {
	if options.StartTime == "" {
		return errors.New("playback requires a start time")
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	endpoint := c.wsEndpoint
	c.mu.Unlock()

	if endpoint == "" {
		return fmt.Errorf("opening playback stream: %w", ErrNoEndpoint)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("playback url: %w", err)
	}

	u.Path = strings.Replace(u.Path, "stream", "playback", 1)

	q := u.Query()
	q.Set("startTime", options.StartTime)
	if options.Rate > 0 {
		q.Set("playbackRate", fmt.Sprintf("%g", options.Rate))
	}
	u.RawQuery = q.Encode()

	return c.stream.Open(u.String(), options.Subscribe, c.options.Token)
}

// Disconnect closes the stream and clears all discovered server state.
func (c *Client) Disconnect() error {
	var err error

	err = multierr.Append(err, c.stream.Close())
	c.clear()

	return err
}

// Connected reports whether the last Connect succeeded and the state
// has not been cleared since.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

func (c *Client) clear() {
	c.rest.SetEndpoint("")

	c.mu.Lock()
	c.server = ServerInfo{}
	c.wsEndpoint = ""
	c.connected = false
	c.mu.Unlock()
}

// do issues a raw HTTP call outside the REST transport's api root
// (discovery, auth, application data), attaching the session's bearer
// token.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth := c.session.AuthHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	return c.http.Do(req)
}

func (c *Client) httpScheme() string {
	if c.options.UseTLS {
		return "https"
	}

	return "http"
}

func (c *Client) wsScheme() string {
	if c.options.UseTLS {
		return "wss"
	}

	return "ws"
}

func (c *Client) host() string {
	return fmt.Sprintf("%s:%d", c.options.Hostname, c.options.Port)
}
