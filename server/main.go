package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pairlock/pairlock/pkg/audit"
	"github.com/pairlock/pairlock/pkg/config"
	"github.com/pairlock/pairlock/pkg/identity"
	"github.com/pairlock/pairlock/pkg/pairing"
	"github.com/pairlock/pairlock/pkg/ratelimit"
	"github.com/pairlock/pairlock/pkg/telemetry"
)

var (
	configPath = flag.String("config", "pairlock.yaml", "Config file path")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	Version    = "dev"
)

func main() {
	flag.Parse()

	bootLogger := zerolog.New(os.Stderr)
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid config")
	}

	logger := configureLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("pairlock server starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "pairlock-server",
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	store, err := pairing.NewGormStore(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	passphrase, err := loadOrCreateSecret(keystorePassphrasePath(cfg), 32)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load keystore passphrase")
	}
	keystore, err := identity.NewFileStore(cfg.Keystore.Dir, passphrase)
	identity.Wipe(passphrase)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open keystore")
	}

	manager := identity.NewManager(keystore)
	serverID, _, err := manager.Bootstrap()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap identities")
	}
	fingerprint := identity.Fingerprint(serverID.Cert)
	logger.Info().Str("fingerprint", fingerprint).Msg("server identity ready")

	salt, err := loadOrCreateSecret(filepath.Join(cfg.Keystore.Dir, "hash.salt"), 32)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load hash salt")
	}

	adminToken, err := resolveAdminToken(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve admin token")
	}

	registry := pairing.NewRegistry(
		store,
		pairing.NewTokenHasher(salt),
		time.Duration(cfg.Pairing.CodeTTL)*time.Second,
		time.Duration(cfg.Pairing.TokenTTL)*time.Second,
	)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.MaxFailures, time.Duration(cfg.RateLimit.Window)*time.Second)
	sink := audit.NewLogSink(logger)

	srv := NewServer(cfg, registry, limiter, sink, logger, staticRecordSource{}, fingerprint, adminToken)

	gin.SetMode(gin.ReleaseMode)

	secure := &http.Server{
		Handler:      srv.secureRouter(),
		ReadTimeout:  time.Duration(cfg.Limits.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Limits.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Limits.IdleTimeout) * time.Second,
	}
	admin := &http.Server{
		Addr:         cfg.AdminListen,
		Handler:      srv.adminRouter(),
		ReadTimeout:  time.Duration(cfg.Limits.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Limits.WriteTimeout) * time.Second,
	}

	inner, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind listener")
	}
	bounded := newBoundedListener(inner, cfg.Limits.MaxConnections, time.Duration(cfg.Limits.ConnLifetime)*time.Second, sink)
	tlsListener := tls.NewListener(bounded, identity.ServerTLSConfig(serverID))

	go prunerLoop(ctx, registry, time.Duration(cfg.Pairing.CodeRetention)*time.Second, logger)

	go func() {
		logger.Info().Str("listen", cfg.Listen).Msg("trusted channel listening")
		if err := secure.Serve(tlsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("secure server exited")
			stop()
		}
	}()
	go func() {
		logger.Info().Str("listen", cfg.AdminListen).Msg("admin plane listening")
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("admin server exited")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := secure.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("secure server shutdown")
	}
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin server shutdown")
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer provider shutdown")
	}
}

func configureLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	var logger zerolog.Logger
	if cfg.JSON {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// prunerLoop reclaims storage for long-dead pairing codes.
func prunerLoop(ctx context.Context, registry *pairing.Registry, retention time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := registry.PruneExpiredCodes(retention)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to prune expired codes")
			} else if pruned > 0 {
				logger.Debug().Int64("pruned", pruned).Msg("pruned expired pairing codes")
			}
		}
	}
}

func keystorePassphrasePath(cfg *config.ServerConfig) string {
	if cfg.Keystore.PassphraseFile != "" {
		return cfg.Keystore.PassphraseFile
	}
	return filepath.Join(cfg.Keystore.Dir, "store.pass")
}

// loadOrCreateSecret reads a secret file, creating it with n random bytes on
// first run.
func loadOrCreateSecret(path string, n int) ([]byte, error) {
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
	secret := make([]byte, n)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

func resolveAdminToken(cfg *config.ServerConfig, logger zerolog.Logger) (string, error) {
	if cfg.AdminToken != "" {
		return cfg.AdminToken, nil
	}
	path := filepath.Join(cfg.Keystore.Dir, "admin.token")
	raw, err := os.ReadFile(path)
	if err == nil && len(raw) > 0 {
		return strings.TrimSpace(string(raw)), nil
	}
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(secret)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	logger.Info().Str("path", path).Msg("generated admin token")
	return token, nil
}
