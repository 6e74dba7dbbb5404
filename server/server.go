package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pairlock/pairlock/pkg/audit"
	"github.com/pairlock/pairlock/pkg/config"
	"github.com/pairlock/pairlock/pkg/pairing"
	"github.com/pairlock/pairlock/pkg/ratelimit"
)

// RecordSource supplies the payload for authorized record requests. The
// server knows nothing about record semantics beyond routing; retrieval and
// serialization live behind this interface.
type RecordSource interface {
	Snapshot(ctx context.Context) (json.RawMessage, error)
}

// Server routes pairing and authorized requests. Authorization decisions are
// delegated to the pairing registry; abuse decisions to the rate limiter.
type Server struct {
	cfg         *config.ServerConfig
	registry    *pairing.Registry
	limiter     *ratelimit.Limiter
	sink        audit.Sink
	logger      zerolog.Logger
	records     RecordSource
	fingerprint string // this server's pinned certificate fingerprint
	adminToken  string
}

func NewServer(cfg *config.ServerConfig, registry *pairing.Registry, limiter *ratelimit.Limiter, sink audit.Sink, logger zerolog.Logger, records RecordSource, fingerprint, adminToken string) *Server {
	return &Server{
		cfg:         cfg,
		registry:    registry,
		limiter:     limiter,
		sink:        sink,
		logger:      logger,
		records:     records,
		fingerprint: fingerprint,
		adminToken:  adminToken,
	}
}

// secureRouter builds the mTLS-facing router: the pairing endpoint plus
// token-authorized routes.
func (s *Server) secureRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(withRequestContext(s.logger))
	r.Use(s.bodyLimit())
	r.Use(s.requireClientCertificate)
	r.Use(s.rateChecked)

	r.POST("/v1/pair", s.handlePair)

	authorized := r.Group("/", s.requireDevice)
	authorized.GET("/v1/status", s.handleStatus)
	authorized.GET("/v1/records", s.handleRecords)

	return r
}

func (s *Server) handlePair(c *gin.Context) {
	var req struct {
		Code       string `json:"code"`
		ClientName string `json:"client_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}

	clientID := clientIdentity(c)
	device, token, err := s.registry.ConsumeCode(req.Code, req.ClientName, clientID)
	if err != nil {
		s.limiter.Failure(clientID)
		audit.Record(s.sink, audit.EventPairingFailed, clientID, map[string]any{
			"reason": pairingFailureReason(err),
		})
		status, msg := pairingFailureResponse(err)
		respondError(c, status, msg, s.logger)
		return
	}

	s.limiter.Success(clientID)
	audit.Record(s.sink, audit.EventPairingSucceeded, clientID, map[string]any{
		"device_id":    device.DeviceID,
		"display_name": device.DisplayName,
	})
	logger := requestLogger(c, s.logger)
	logger.Info().
		Str("device_id", device.DeviceID).
		Msg("device paired")

	c.JSON(http.StatusOK, gin.H{
		"device_id":  device.DeviceID,
		"token":      token,
		"expires_at": device.TokenExpiresAt,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	device := c.MustGet(deviceContextKey).(*pairing.Device)
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"device_id":    device.DeviceID,
		"display_name": device.DisplayName,
		"paired_at":    device.CreatedAt,
		"server_time":  time.Now().UTC(),
	})
}

func (s *Server) handleRecords(c *gin.Context) {
	if s.records == nil {
		respondError(c, http.StatusNotFound, "no record source configured", s.logger)
		return
	}
	snapshot, err := s.records.Snapshot(c.Request.Context())
	if err != nil {
		logger := requestLogger(c, s.logger)
		logger.Error().Err(err).Msg("record source failed")
		respondError(c, http.StatusInternalServerError, "internal error", s.logger)
		return
	}
	c.Data(http.StatusOK, "application/json", snapshot)
}

// pairingFailureResponse names the specific recoverable cause so the offering
// flow can retry with a fresh code.
func pairingFailureResponse(err error) (int, string) {
	switch err {
	case pairing.ErrMalformedCode:
		return http.StatusBadRequest, "invalid pairing code"
	case pairing.ErrCodeConsumed:
		return http.StatusConflict, "pairing code already used"
	case pairing.ErrCodeExpired:
		return http.StatusGone, "pairing code expired"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func pairingFailureReason(err error) string {
	switch err {
	case pairing.ErrMalformedCode:
		return "malformed_code"
	case pairing.ErrCodeConsumed:
		return "already_consumed"
	case pairing.ErrCodeExpired:
		return "expired"
	default:
		return "internal"
	}
}
