package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// DiscoveryPath is the fixed capability discovery path every Signal K
// server exposes.
const DiscoveryPath = "/signalk"

// Endpoint describes one advertised protocol version.
type Endpoint struct {
	Version string
	HTTPURL string
	WSURL   string
}

// ServerInfo is the capability record captured by discovery. It is
// replaced wholesale on every successful discovery and cleared to empty
// on disconnect. The client owns it exclusively; transports only ever
// see the resolved URLs.
type ServerInfo struct {
	// Endpoints maps version labels ("v1") to endpoint descriptors.
	Endpoints map[string]Endpoint

	// ID and Version identify the server implementation.
	ID      string
	Version string

	// APIVersions lists the advertised version labels in document
	// order.
	APIVersions []string
}

// advertises reports whether the given major version was advertised.
func (s ServerInfo) advertises(major int) bool {
	label := fmt.Sprintf("v%d", major)

	for _, v := range s.APIVersions {
		if v == label {
			return true
		}
	}

	return false
}

// Discover GETs the discovery document and replaces the held ServerInfo
// with what it describes. With the Proxied option set, the server
// reported endpoint hosts are discarded and every advertised version is
// pointed at the literal connection host and port instead.
func (c *Client) Discover(ctx context.Context) error {
	url := c.httpScheme() + "://" + c.host() + DiscoveryPath

	c.log.Debug("discovering server", zap.String("url", url))

	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discovery: unexpected status %d", resp.StatusCode)
	}

	info := ServerInfo{
		Endpoints: make(map[string]Endpoint),
		ID:        gjson.GetBytes(body, "server.id").String(),
		Version:   gjson.GetBytes(body, "server.version").String(),
	}

	gjson.GetBytes(body, "endpoints").ForEach(func(label, descriptor gjson.Result) bool {
		info.APIVersions = append(info.APIVersions, label.String())
		info.Endpoints[label.String()] = Endpoint{
			Version: descriptor.Get("version").String(),
			HTTPURL: descriptor.Get("signalk-http").String(),
			WSURL:   descriptor.Get("signalk-ws").String(),
		}

		return true
	})

	if c.options.Proxied {
		info.Endpoints = c.synthesizeEndpoints(info.APIVersions)
	}

	c.mu.Lock()
	c.server = info
	c.mu.Unlock()

	c.log.Info("discovered server",
		zap.String("id", info.ID),
		zap.String("version", info.Version),
		zap.Strings("apiVersions", info.APIVersions))

	return nil
}

// synthesizeEndpoints builds endpoint descriptors from the configured
// host and port for each given version label. Used for proxied servers
// and for fallback when discovery fails.
func (c *Client) synthesizeEndpoints(labels []string) map[string]Endpoint {
	endpoints := make(map[string]Endpoint, len(labels))

	for _, label := range labels {
		endpoints[label] = Endpoint{
			Version: label,
			HTTPURL: fmt.Sprintf("%s://%s/signalk/%s/api/", c.httpScheme(), c.host(), label),
			WSURL:   fmt.Sprintf("%s://%s/signalk/%s/stream", c.wsScheme(), c.host(), label),
		}
	}

	return endpoints
}

// ResolveHTTPEndpoint returns the HTTP endpoint URL for the selected
// version, falling back to "v1" when the selected version has no
// advertised endpoint. An empty string means no endpoint is available.
func (c *Client) ResolveHTTPEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resolveLocked(func(e Endpoint) string { return e.HTTPURL })
}

// ResolveWSEndpoint is ResolveHTTPEndpoint for the WebSocket URL.
func (c *Client) ResolveWSEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resolveLocked(func(e Endpoint) string { return e.WSURL })
}

func (c *Client) resolveLocked(pick func(Endpoint) string) string {
	label := fmt.Sprintf("v%d", c.session.Version())

	if endpoint, ok := c.server.Endpoints[label]; ok {
		return pick(endpoint)
	}

	if endpoint, ok := c.server.Endpoints["v1"]; ok {
		return pick(endpoint)
	}

	return ""
}
