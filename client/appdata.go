package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/luma/keel/protocol"
)

// AppDataScope selects whose application data a call touches.
type AppDataScope string

const (
	ScopeUser   AppDataScope = "user"
	ScopeGlobal AppDataScope = "global"
)

var (
	ErrInvalidScope = errors.New("application data scope must be user or global")
	ErrMissingAppID = errors.New("application identifier is required")
	ErrMissingPath  = errors.New("application data path is required")
	ErrNoHTTPBase   = errors.New("no http endpoint resolved for application data")
)

// PatchOperation is a single JSON Patch operation for AppDataPatch.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// AppDataGet reads a value from the application data store.
func (c *Client) AppDataGet(ctx context.Context, scope AppDataScope, appID, version, path string) (gjson.Result, error) {
	url, err := c.appDataURL(scope, appID, version, path)
	if err != nil {
		return gjson.Result{}, err
	}

	return c.getJSON(ctx, url)
}

// AppDataSet writes a value into the application data store.
func (c *Client) AppDataSet(ctx context.Context, scope AppDataScope, appID, version, path string, value interface{}) error {
	if path == "" {
		return ErrMissingPath
	}

	url, err := c.appDataURL(scope, appID, version, path)
	if err != nil {
		return err
	}

	body, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.postJSON(ctx, url, body)
}

// AppDataKeys lists the keys an application has stored under a version.
func (c *Client) AppDataKeys(ctx context.Context, scope AppDataScope, appID, version string) ([]string, error) {
	url, err := c.appDataURL(scope, appID, version, "?keys=true")
	if err != nil {
		return nil, err
	}

	result, err := c.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, key := range result.Array() {
		keys = append(keys, key.String())
	}

	return keys, nil
}

// AppDataVersions lists the versions an application has stored data
// under.
func (c *Client) AppDataVersions(ctx context.Context, scope AppDataScope, appID string) ([]string, error) {
	url, err := c.appDataURL(scope, appID, "", "")
	if err != nil {
		return nil, err
	}

	result, err := c.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var versions []string
	for _, v := range result.Array() {
		versions = append(versions, v.String())
	}

	return versions, nil
}

// AppDataPatch applies a list of JSON Patch operations to the
// application's data in one call.
func (c *Client) AppDataPatch(ctx context.Context, scope AppDataScope, appID, version string, ops []PatchOperation) error {
	if len(ops) == 0 {
		return errors.New("at least one patch operation is required")
	}

	url, err := c.appDataURL(scope, appID, version, "")
	if err != nil {
		return err
	}

	body, err := json.Marshal(ops)
	if err != nil {
		return err
	}

	return c.postJSON(ctx, url, body)
}

// appDataURL resolves the application data root by substituting the
// "api" path segment of the discovered HTTP endpoint, then appends
// scope, application, version and path.
func (c *Client) appDataURL(scope AppDataScope, appID, version, path string) (string, error) {
	if scope != ScopeUser && scope != ScopeGlobal {
		return "", ErrInvalidScope
	}

	if appID == "" {
		return "", ErrMissingAppID
	}

	base := c.ResolveHTTPEndpoint()
	if base == "" {
		return "", ErrNoHTTPBase
	}

	base = strings.Replace(base, "api", "applicationData", 1)
	base = strings.TrimSuffix(base, "/")

	url := fmt.Sprintf("%s/%s/%s", base, scope, appID)

	if version != "" {
		url += "/" + version
	}

	if path != "" && !strings.HasPrefix(path, "?") {
		url += "/" + protocol.DotToSlash(strings.TrimPrefix(path, "/"))
	} else {
		url += path
	}

	return url, nil
}

func (c *Client) getJSON(ctx context.Context, url string) (gjson.Result, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gjson.Result{}, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	return gjson.ParseBytes(body), nil
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte) error {
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("POST %s: unexpected status %d", url, resp.StatusCode)
	}

	return nil
}
