package main

import (
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pairlock/pairlock/pkg/audit"
	"github.com/pairlock/pairlock/pkg/identity"
	"github.com/pairlock/pairlock/pkg/pairing"
)

const (
	requestIDContextKey      = "request_id"
	requestLoggerContextKey  = "request_logger"
	clientIdentityContextKey = "client_identity"
	deviceContextKey         = "device"
	requestIDHeader          = "X-Request-ID"
)

const tracerName = "github.com/pairlock/pairlock/server"

func withRequestContext(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = xid.New().String()
		}
		c.Set(requestIDContextKey, reqID)
		c.Writer.Header().Set(requestIDHeader, reqID)

		logger := base.With().Str("request_id", reqID).Str("method", c.Request.Method).Str("path", c.FullPath()).Logger()
		c.Set(requestLoggerContextKey, logger)

		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		tracer := otel.Tracer(tracerName)
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.FullPath(), trace.WithSpanKind(trace.SpanKindServer))
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.String("request.id", reqID),
		)

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		span.End()
	}
}

func requestLogger(c *gin.Context, fallback zerolog.Logger) zerolog.Logger {
	if value, ok := c.Get(requestLoggerContextKey); ok {
		if logger, ok := value.(zerolog.Logger); ok {
			return logger
		}
	}
	return fallback
}

func requestID(c *gin.Context) string {
	if value, ok := c.Get(requestIDContextKey); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

func respondError(c *gin.Context, status int, message string, fallback zerolog.Logger) {
	logger := requestLogger(c, fallback)
	entry := logger.Warn()
	if status >= http.StatusInternalServerError {
		entry = logger.Error()
	}
	entry.Int("status", status).Msg(message)

	c.AbortWithStatusJSON(status, gin.H{
		"error":      message,
		"request_id": requestID(c),
	})
}

// bodyLimit bounds request bodies before buffering completes.
func (s *Server) bodyLimit() gin.HandlerFunc {
	max := s.cfg.Limits.MaxBodyBytes
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			audit.Record(s.sink, audit.EventRejected, clientIdentity(c), map[string]any{
				"reason": "request_too_large",
			})
			respondError(c, http.StatusRequestEntityTooLarge, "request body too large", s.logger)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

// requireClientCertificate enforces the handshake-level preconditions: TLS
// 1.3 or newer and a presented peer certificate. The certificate need not be
// recognised yet; first pairing contact uses an ephemeral one.
func (s *Server) requireClientCertificate(c *gin.Context) {
	state := c.Request.TLS
	if state == nil || state.Version < tls.VersionTLS13 {
		audit.Record(s.sink, audit.EventRejected, remoteAddr(c), map[string]any{
			"reason": "protocol_version",
		})
		respondError(c, http.StatusUpgradeRequired, "TLS 1.3 required", s.logger)
		return
	}

	fp, ok := identity.PeerFingerprint(state)
	if !ok {
		audit.Record(s.sink, audit.EventRejected, remoteAddr(c), map[string]any{
			"reason": "no_client_certificate",
		})
		respondError(c, http.StatusUnauthorized, "client certificate required", s.logger)
		return
	}

	c.Set(clientIdentityContextKey, fp)
	c.Next()
}

// rateChecked consults the limiter before any authentication attempt is
// admitted. Only failed attempts count toward the window; handlers report
// outcomes back via limiter.Failure/Success.
func (s *Server) rateChecked(c *gin.Context) {
	clientID := clientIdentity(c)
	decision := s.limiter.Allow(clientID)
	if decision.Allowed {
		c.Next()
		return
	}

	retryAfter := int(decision.RetryAfter.Seconds()) + 1
	audit.Record(s.sink, audit.EventRateLimited, clientID, map[string]any{
		"retry_after_s": retryAfter,
	})
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	logger := requestLogger(c, s.logger)
	logger.Warn().Int("retry_after_s", retryAfter).Msg("rate limited")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":         "rate limited",
		"retry_after_s": retryAfter,
		"request_id":    requestID(c),
	})
}

// requireDevice authorises a request by its bearer token, bound to the
// TLS-layer certificate fingerprint. Fingerprint mismatches and revocations
// are fatal to the connection.
func (s *Server) requireDevice(c *gin.Context) {
	clientID := clientIdentity(c)

	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		s.authFailed(c, clientID, "missing_token", false)
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")

	device, err := s.registry.ValidateToken(token, clientID)
	if err != nil {
		switch err {
		case pairing.ErrUnknownToken:
			s.authFailed(c, clientID, "unknown_token", false)
		case pairing.ErrTokenExpired:
			s.authFailed(c, clientID, "token_expired", true)
		case pairing.ErrDeviceRevoked:
			s.authFailed(c, clientID, "device_revoked", true)
		case pairing.ErrFingerprintMismatch:
			s.authFailed(c, clientID, "fingerprint_mismatch", true)
		default:
			logger := requestLogger(c, s.logger)
			logger.Error().Err(err).Msg("token validation failed")
			respondError(c, http.StatusInternalServerError, "internal error", s.logger)
		}
		return
	}

	s.limiter.Success(clientID)
	c.Set(deviceContextKey, device)
	c.Next()
}

// authFailed records the failure and rejects. Unauthenticated peers get a
// uniform message; rePair marks causes that require pairing again and closes
// the connection rather than degrade.
func (s *Server) authFailed(c *gin.Context, clientID, reason string, rePair bool) {
	s.limiter.Failure(clientID)
	audit.Record(s.sink, audit.EventAuthFailed, clientID, map[string]any{
		"reason": reason,
	})

	logger := requestLogger(c, s.logger)
	logger.Warn().Str("reason", reason).Msg("authorization failed")

	if rePair {
		c.Header("Connection", "close")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":            "unauthorized",
			"re_pair_required": true,
			"request_id":       requestID(c),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      "unauthorized",
		"request_id": requestID(c),
	})
}

func clientIdentity(c *gin.Context) string {
	if value, ok := c.Get(clientIdentityContextKey); ok {
		if fp, ok := value.(string); ok {
			return fp
		}
	}
	return remoteAddr(c)
}

func remoteAddr(c *gin.Context) string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
