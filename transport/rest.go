package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/keel/protocol"
)

var versionSegment = regexp.MustCompile(`/v\d+/`)

// REST issues request/response calls against a resolved Signal K HTTP
// endpoint. It is stateless apart from the endpoint URL and the shared
// Session.
//
// Calls made before an endpoint is configured resolve to zero values
// with a nil error, by design: callers that depend on a result must
// check Endpoint() first.
type REST struct {
	endpoint string

	session *Session
	client  *http.Client
	log     *zap.Logger
}

// NewREST creates a REST transport. The endpoint is wired later, once
// discovery has resolved it.
func NewREST(options Options) *REST {
	return &REST{
		session: options.session(),
		client:  &http.Client{Timeout: options.httpTimeout()},
		log:     options.log().Named("rest"),
	}
}

// Endpoint returns the configured base endpoint URL, or "".
func (r *REST) Endpoint() string {
	return r.endpoint
}

// SetEndpoint points the transport at a discovered base endpoint URL,
// e.g. "http://localhost:3000/signalk/v1/api/".
func (r *REST) SetEndpoint(url string) {
	r.endpoint = url
}

// Get issues a GET for path and returns the parsed JSON body.
func (r *REST) Get(ctx context.Context, path string) (gjson.Result, error) {
	return r.GetVersion(ctx, 0, path)
}

// GetVersion is Get with an explicit API version override substituted
// into the endpoint URL. Zero means no override.
func (r *REST) GetVersion(ctx context.Context, version int, path string) (gjson.Result, error) {
	url := r.url(version, path)
	if url == "" {
		r.log.Debug("no endpoint configured, skipping GET", zap.String("path", path))
		return gjson.Result{}, nil
	}

	resp, err := r.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gjson.Result{}, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("GET %s: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return gjson.Result{}, fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}

	return gjson.ParseBytes(body), nil
}

// Put issues a PUT for path. For API major version 1 the value is
// wrapped as {"value": ...}; version 2 onwards sends it unwrapped. The
// response is returned with its body unread.
func (r *REST) Put(ctx context.Context, path string, value interface{}) (*http.Response, error) {
	return r.PutVersion(ctx, 0, path, value)
}

// PutVersion is Put with an explicit API version override.
func (r *REST) PutVersion(ctx context.Context, version int, path string, value interface{}) (*http.Response, error) {
	url := r.url(version, path)
	if url == "" {
		r.log.Debug("no endpoint configured, skipping PUT", zap.String("path", path))
		return nil, nil
	}

	body, err := r.putBody(version, value)
	if err != nil {
		return nil, err
	}

	return r.do(ctx, http.MethodPut, url, body)
}

// PutWithContext issues a PUT for path under the given vessel context.
func (r *REST) PutWithContext(ctx context.Context, vctx, path string, value interface{}) (*http.Response, error) {
	return r.PutWithContextVersion(ctx, 0, vctx, path, value)
}

// PutWithContextVersion is PutWithContext with an explicit API version
// override.
func (r *REST) PutWithContextVersion(
	ctx context.Context,
	version int,
	vctx, path string,
	value interface{},
) (*http.Response, error) {
	full := protocol.ContextToPath(vctx) + "/" + strings.TrimPrefix(path, "/")
	return r.PutVersion(ctx, version, full, value)
}

// Post issues a POST for path with a JSON serialised body. The response
// is returned with its body unread.
func (r *REST) Post(ctx context.Context, path string, value interface{}) (*http.Response, error) {
	return r.PostVersion(ctx, 0, path, value)
}

// PostVersion is Post with an explicit API version override.
func (r *REST) PostVersion(ctx context.Context, version int, path string, value interface{}) (*http.Response, error) {
	url := r.url(version, path)
	if url == "" {
		r.log.Debug("no endpoint configured, skipping POST", zap.String("path", path))
		return nil, nil
	}

	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}

	return r.do(ctx, http.MethodPost, url, body)
}

// Delete issues a DELETE for path. DELETE carries no body.
func (r *REST) Delete(ctx context.Context, path string) (*http.Response, error) {
	return r.DeleteVersion(ctx, 0, path)
}

// DeleteVersion is Delete with an explicit API version override.
func (r *REST) DeleteVersion(ctx context.Context, version int, path string) (*http.Response, error) {
	url := r.url(version, path)
	if url == "" {
		r.log.Debug("no endpoint configured, skipping DELETE", zap.String("path", path))
		return nil, nil
	}

	return r.do(ctx, http.MethodDelete, url, nil)
}

// RaiseAlarm PUTs the alarm value under a notifications path for the
// given vessel context. A bare name is rooted under "notifications."
// first.
func (r *REST) RaiseAlarm(ctx context.Context, vctx, name string, alarm protocol.Alarm) (*http.Response, error) {
	if err := alarm.Validate(); err != nil {
		return nil, err
	}

	return r.PutWithContext(ctx, vctx, protocol.NotificationPath(name), alarm.Value())
}

// ClearAlarm PUTs null under the alarm's notifications path.
func (r *REST) ClearAlarm(ctx context.Context, vctx, name string) (*http.Response, error) {
	return r.PutWithContext(ctx, vctx, protocol.NotificationPath(name), nil)
}

// url joins the endpoint and a dotted or slashed path, substituting an
// explicit version override into the endpoint's /v<N>/ segment when one
// is given. An empty result means no endpoint is configured.
func (r *REST) url(version int, path string) string {
	endpoint := r.endpoint
	if endpoint == "" {
		return ""
	}

	if version > 0 {
		endpoint = versionSegment.ReplaceAllString(endpoint, fmt.Sprintf("/v%d/", version))
	}

	path = strings.TrimPrefix(path, "/")

	return endpoint + protocol.DotToSlash(path)
}

// putBody serialises a PUT value, applying the version 1 {"value": ...}
// wrapping. The wire format difference between major versions is
// deliberate and must be preserved exactly.
func (r *REST) putBody(version int, value interface{}) ([]byte, error) {
	if version == 0 {
		version = r.session.Version()
	}

	if version >= 2 {
		return json.Marshal(value)
	}

	body, err := sjson.SetBytes([]byte(`{}`), "value", value)
	if err != nil {
		return nil, fmt.Errorf("wrapping put value: %w", err)
	}

	return body, nil
}

func (r *REST) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
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

	if auth := r.session.AuthHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	return r.client.Do(req)
}
