package main

import (
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pairlock/pairlock/pkg/health"
	"github.com/pairlock/pairlock/pkg/identity"
	"github.com/pairlock/pairlock/pkg/pairing"
)

var (
	stateDir    = flag.String("state-dir", defaultStateDir(), "Directory for agent identity and session state")
	payloadPath = flag.String("payload", "", "Pairing payload file (JSON), or - for stdin")
	displayName = flag.String("name", defaultDisplayName(), "Display name announced when pairing")
	Version     = "dev"
)

func main() {
	flag.Parse()
	configureLogger()

	switch flag.Arg(0) {
	case "pair":
		runPair()
	case "status":
		runAuthorized("/v1/status")
	case "records":
		runAuthorized("/v1/records")
	case "health":
		runHealth()
	case "version":
		fmt.Printf("pairlock-agent version %s\n", Version)
	default:
		fmt.Fprintln(os.Stderr, "usage: pairlock-agent [flags] pair|status|records|health|version")
		os.Exit(2)
	}
}

// runHealth probes the pairing over the pinned channel and prints the result.
// Exits non-zero when the pairing needs attention.
func runHealth() {
	state, err := loadState(*stateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("not paired yet; run pair first")
	}
	clientID, err := loadClientIdentity()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load client identity")
	}

	client := newClient(clientID, state.Host, state.Port, state.ServerFingerprint)
	status := health.Check(client.http, client.base, state.Token, state.TokenExpiresAt, 300)

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to render health status")
	}
	fmt.Println(string(out))
	if !status.Healthy {
		os.Exit(1)
	}
}

func runPair() {
	payload, err := readPayload()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read pairing payload")
	}

	clientID, err := loadClientIdentity()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load client identity")
	}

	state, err := pair(payload, clientID, *displayName)
	if err != nil {
		log.Fatal().Err(err).Msg("pairing failed")
	}
	if err := saveState(*stateDir, state); err != nil {
		log.Fatal().Err(err).Msg("failed to persist session state")
	}

	log.Info().
		Str("device_id", state.DeviceID).
		Time("token_expires_at", state.TokenExpiresAt).
		Msg("paired")
}

func runAuthorized(path string) {
	state, err := loadState(*stateDir)
	if err != nil {
		log.Fatal().Err(err).Msg("not paired yet; run pair first")
	}
	clientID, err := loadClientIdentity()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load client identity")
	}

	body, err := authorizedGet(state, clientID, path)
	if err != nil {
		log.Fatal().Err(err).Msg("request failed")
	}
	fmt.Println(string(body))
}

// loadClientIdentity opens the agent's encrypted keystore and ensures its
// long-term CA + client leaf exist.
func loadClientIdentity() (*identity.Identity, error) {
	dir := filepath.Join(*stateDir, "keystore")
	passphrase, err := loadOrCreatePassphrase(filepath.Join(dir, "store.pass"))
	if err != nil {
		return nil, err
	}
	store, err := identity.NewFileStore(dir, passphrase)
	identity.Wipe(passphrase)
	if err != nil {
		return nil, err
	}
	clientID, _, err := identity.NewManager(store).BootstrapClient()
	return clientID, err
}

func loadOrCreatePassphrase(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		return data, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

func readPayload() (*pairing.Payload, error) {
	if *payloadPath == "" {
		return nil, fmt.Errorf("-payload is required for pairing")
	}
	var data []byte
	var err error
	if *payloadPath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*payloadPath)
	}
	if err != nil {
		return nil, err
	}
	return pairing.DecodePayload(data)
}

func configureLogger() {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("PAIRLOCK_AGENT_LOG_LEVEL"))); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pairlock"
	}
	return filepath.Join(home, ".pairlock")
}

func defaultDisplayName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unnamed-device"
	}
	return hostname
}
