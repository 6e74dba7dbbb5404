package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pairlock/pairlock/pkg/identity"
	"github.com/pairlock/pairlock/pkg/netcheck"
	"github.com/pairlock/pairlock/pkg/pairing"
)

// Client talks to a trusted channel server over mTLS with the server
// certificate pinned to a known fingerprint.
type Client struct {
	http *http.Client
	base string
}

func newClient(clientID *identity.Identity, host string, port int, serverFingerprint string) *Client {
	tlsConfig := identity.PinnedClientTLSConfig(clientID, serverFingerprint)
	return &Client{
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
		base: "https://" + net.JoinHostPort(host, strconv.Itoa(port)),
	}
}

type pairResponse struct {
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// pair redeems the payload's one-time code. The host is classified before
// any dial so a hostile payload cannot steer us off the local network.
func pair(payload *pairing.Payload, clientID *identity.Identity, displayName string) (*State, error) {
	if err := netcheck.CheckLocal(payload.Host); err != nil {
		return nil, fmt.Errorf("refusing to pair with %q: %w", payload.Host, err)
	}
	if time.Now().After(payload.ExpiresAt) {
		return nil, fmt.Errorf("pairing offer expired at %s", payload.ExpiresAt.Format(time.RFC3339))
	}

	client := newClient(clientID, payload.Host, payload.Port, payload.Fingerprint)

	body, err := json.Marshal(map[string]string{
		"code":        payload.Code,
		"client_name": displayName,
	})
	if err != nil {
		return nil, err
	}

	resp, err := client.http.Post(client.base+"/v1/pair", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pairing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pairing rejected: %s", readError(resp))
	}

	var pr pairResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode pairing response: %w", err)
	}

	return &State{
		Host:              payload.Host,
		Port:              payload.Port,
		ServerFingerprint: payload.Fingerprint,
		DeviceID:          pr.DeviceID,
		Token:             pr.Token,
		TokenExpiresAt:    pr.ExpiresAt,
	}, nil
}

// authorizedGet issues a token-bearing request against an already-paired
// server and returns the raw response body.
func authorizedGet(state *State, clientID *identity.Identity, path string) ([]byte, error) {
	client := newClient(clientID, state.Host, state.Port, state.ServerFingerprint)

	req, err := http.NewRequest(http.MethodGet, client.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+state.Token)

	var body []byte
	r := newRetrier(500, 5000, 3)
	err = r.do(func() error {
		resp, err := client.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("request rejected: %s", readError(resp))
			if retryableStatus(resp) {
				return retryableError{err: err, after: retryAfter(resp)}
			}
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

func readError(resp *http.Response) string {
	var payload struct {
		Error          string `json:"error"`
		RePairRequired bool   `json:"re_pair_required"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Error == "" {
		return resp.Status
	}
	if payload.RePairRequired {
		return payload.Error + " (re-pairing required)"
	}
	return payload.Error
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
