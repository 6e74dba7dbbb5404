package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// State is what the agent persists after a successful pairing: where the
// server lives, which certificate to pin, and the session token. It lives in
// a 0600 file under the state dir.
type State struct {
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	ServerFingerprint string    `json:"server_fingerprint"`
	DeviceID          string    `json:"device_id"`
	Token             string    `json:"token"`
	TokenExpiresAt    time.Time `json:"token_expires_at"`
}

func statePath(dir string) string {
	return filepath.Join(dir, "state.json")
}

func loadState(dir string) (*State, error) {
	data, err := os.ReadFile(statePath(dir))
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func saveState(dir string, state *State) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(statePath(dir), data, 0o600)
}
