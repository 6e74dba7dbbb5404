// Package health probes the state of an existing pairing: can the server be
// reached over the pinned channel, does the token still authorize, and is the
// local clock close enough to the server's to trust expiry comparisons.
package health

import (
	"fmt"
	"net/http"
	"time"
)

// Status is the result of a pairing health check.
type Status struct {
	ServerReachable bool      `json:"server_reachable"`
	TokenValid      bool      `json:"token_valid"`
	TokenExpiresAt  time.Time `json:"token_expires_at"`
	TimeDrift       int       `json:"time_drift_seconds"`
	CheckedAt       time.Time `json:"checked_at"`
	Healthy         bool      `json:"healthy"`
	Issues          []string  `json:"issues,omitempty"`
}

// ExpiryWarning is how close to token expiry the check starts flagging.
const ExpiryWarning = 7 * 24 * time.Hour

// Check probes baseURL's status endpoint with the session token. The client
// must already carry the pinned TLS configuration; a fingerprint mismatch
// shows up here as an unreachable server.
func Check(client *http.Client, baseURL, token string, tokenExpiresAt time.Time, maxDriftSeconds int) *Status {
	status := &Status{
		TokenExpiresAt: tokenExpiresAt,
		CheckedAt:      time.Now().UTC(),
		Healthy:        true,
		Issues:         []string{},
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/status", nil)
	if err != nil {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("build request: %v", err))
		return status
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("cannot reach server: %v", err))
		return status
	}
	defer resp.Body.Close()
	status.ServerReachable = true

	switch resp.StatusCode {
	case http.StatusOK:
		status.TokenValid = true
	case http.StatusUnauthorized:
		status.Healthy = false
		status.Issues = append(status.Issues, "token no longer authorizes, re-pairing required")
	default:
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("server returned status %d", resp.StatusCode))
	}

	status.TimeDrift = driftSeconds(resp, status.CheckedAt)
	if maxDriftSeconds > 0 && abs(status.TimeDrift) > maxDriftSeconds {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("clock drift %ds exceeds max %ds", status.TimeDrift, maxDriftSeconds))
	}

	if status.TokenValid {
		remaining := time.Until(tokenExpiresAt)
		if remaining <= 0 {
			status.Healthy = false
			status.Issues = append(status.Issues, "token expired")
		} else if remaining < ExpiryWarning {
			status.Issues = append(status.Issues, fmt.Sprintf("token expires in %s", remaining.Round(time.Hour)))
		}
	}

	return status
}

// driftSeconds estimates local clock drift from the server's Date header.
// Coarse, but a second of HTTP latency does not matter at the minutes scale
// where drift breaks expiry checks.
func driftSeconds(resp *http.Response, localNow time.Time) int {
	raw := resp.Header.Get("Date")
	if raw == "" {
		return 0
	}
	serverTime, err := http.ParseTime(raw)
	if err != nil {
		return 0
	}
	return int(localNow.Sub(serverTime).Seconds())
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
