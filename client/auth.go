package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// TokenMarker is the name of the session cookie the server sets on
	// a successful login.
	TokenMarker = "JAUTHENTICATION"

	// legacyServerID identifies server builds that predate the
	// versioned login status endpoint.
	legacyServerID = "signalk-server-node"
)

// Login POSTs the configured credentials and stores the session cookie
// value as the bearer token for both transports.
func (c *Client) Login(ctx context.Context) error {
	if c.options.Username == "" || c.options.Password == "" {
		return ErrMissingCredentials
	}

	body, err := json.Marshal(map[string]string{
		"username": c.options.Username,
		"password": c.options.Password,
	})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, c.authURL("login"), body)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	token := sessionCookie(resp)
	if token == "" {
		return fmt.Errorf("login: no %s cookie in response", TokenMarker)
	}

	c.session.SetToken(token)

	return nil
}

// Validate revalidates the current token with the server, refreshing it
// when the server rotates the session cookie.
func (c *Client) Validate(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, c.authURL("validate"), nil)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validate: unexpected status %d", resp.StatusCode)
	}

	if token := sessionCookie(resp); token != "" {
		c.session.SetToken(token)
	}

	return nil
}

// Logout invalidates the server side session, best effort: failures are
// swallowed and reported as false, never returned. The local token is
// cleared either way.
func (c *Client) Logout(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodPut, c.authURL("logout"), nil)

	defer c.session.SetToken("")

	if err != nil {
		c.log.Warn("logout failed", zap.Error(err))
		return false
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Warn("logout rejected", zap.Int("status", resp.StatusCode))
		return false
	}

	return true
}

// IsLoggedIn queries the server's login status endpoint. Legacy server
// builds (signalk-server-node before 1.36) expose it at a fixed root
// path instead of under the versioned auth root.
func (c *Client) IsLoggedIn(ctx context.Context) (bool, error) {
	url := c.authURL("loginStatus")

	server := c.Server()
	if server.ID == legacyServerID && versionBelow(server.Version, 1, 36) {
		url = c.httpScheme() + "://" + c.host() + "/skServer/loginStatus"
	}

	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("login status: %w", err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("login status: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("login status: unexpected status %d", resp.StatusCode)
	}

	return gjson.GetBytes(body, "status").String() == "loggedIn", nil
}

func (c *Client) authURL(path string) string {
	return fmt.Sprintf("%s://%s/signalk/v%d/auth/%s",
		c.httpScheme(), c.host(), c.session.Version(), path)
}

// sessionCookie extracts the marker cookie's value from a response, or
// "".
func sessionCookie(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == TokenMarker {
			return cookie.Value
		}
	}

	return ""
}

// versionBelow reports whether a dotted version string sorts before
// major.minor. Unparseable versions are not considered legacy.
func versionBelow(version string, major, minor int) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}

	haveMajor, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}

	haveMinor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}

	if haveMajor != major {
		return haveMajor < major
	}

	return haveMinor < minor
}
