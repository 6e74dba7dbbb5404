package main

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pairlock/pairlock/pkg/audit"
	"github.com/pairlock/pairlock/pkg/pairing"
)

// adminRouter builds the loopback-only control plane: issuing pairing offers,
// listing devices, and revocation. Guarded by a bearer token, not mTLS,
// because offers must be mintable before any device is paired.
func (s *Server) adminRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(withRequestContext(s.logger))

	admin := r.Group("/v1/admin", s.requireAdmin)
	admin.POST("/codes", s.handleIssueCode)
	admin.GET("/devices", s.handleListDevices)
	admin.DELETE("/devices/:id", s.handleRevokeDevice)
	admin.GET("/health", s.handleAdminHealth)

	return r
}

func (s *Server) requireAdmin(c *gin.Context) {
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		respondError(c, http.StatusUnauthorized, "missing bearer token", s.logger)
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		respondError(c, http.StatusUnauthorized, "invalid bearer token", s.logger)
		return
	}
	c.Next()
}

// handleIssueCode mints a pairing code and returns the complete out-of-band
// payload. The code appears in this response and nowhere else.
func (s *Server) handleIssueCode(c *gin.Context) {
	var req struct {
		TTLSeconds int `json:"ttl_s"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondError(c, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}

	issued, err := s.registry.IssueCode(time.Duration(req.TTLSeconds) * time.Second)
	if err != nil {
		logger := requestLogger(c, s.logger)
		logger.Error().Err(err).Msg("failed to issue pairing code")
		respondError(c, http.StatusInternalServerError, "failed to issue code", s.logger)
		return
	}

	payload := pairing.Payload{
		Version:     pairing.PayloadVersion,
		Host:        s.advertiseHost(),
		Port:        s.listenPort(),
		Code:        issued.Code,
		ExpiresAt:   issued.ExpiresAt,
		Fingerprint: s.fingerprint,
	}

	logger := requestLogger(c, s.logger)
	logger.Info().
		Time("expires_at", issued.ExpiresAt).
		Msg("pairing code issued")

	c.JSON(http.StatusCreated, payload)
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices, err := s.registry.Devices()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list devices", s.logger)
		return
	}

	resp := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, gin.H{
			"device_id":        d.DeviceID,
			"display_name":     d.DisplayName,
			"created_at":       d.CreatedAt,
			"token_expires_at": d.TokenExpiresAt,
			"last_seen_at":     d.LastSeenAt,
			"active":           d.Active,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRevokeDevice(c *gin.Context) {
	deviceID := c.Param("id")
	if deviceID == "" {
		respondError(c, http.StatusBadRequest, "missing device id", s.logger)
		return
	}

	if err := s.registry.Revoke(deviceID); err != nil {
		if err == pairing.ErrNotFound {
			respondError(c, http.StatusNotFound, "device not found", s.logger)
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to revoke device", s.logger)
		return
	}

	audit.Record(s.sink, audit.EventDeviceRevoked, deviceID, nil)
	logger := requestLogger(c, s.logger)
	logger.Info().Str("device_id", deviceID).Msg("device revoked")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAdminHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"rate_limit": s.limiter.Stats(),
	})
}

func (s *Server) advertiseHost() string {
	if s.cfg.AdvertiseHost != "" {
		return s.cfg.AdvertiseHost
	}
	if host, err := outboundHost(); err == nil {
		return host
	}
	return "localhost"
}

func (s *Server) listenPort() int {
	_, portStr, err := net.SplitHostPort(s.cfg.Listen)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// outboundHost guesses the LAN address devices should dial. No packets are
// sent; the dial just selects a local interface.
func outboundHost() (string, error) {
	conn, err := net.Dial("udp", "192.168.0.1:53")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", net.InvalidAddrError("not a UDP address")
	}
	return addr.IP.String(), nil
}
