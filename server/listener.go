package main

import (
	"net"
	"sync"
	"time"

	"github.com/pairlock/pairlock/pkg/audit"
)

// boundedListener caps concurrent connections and stamps every accepted
// connection with an absolute lifetime deadline, independent of activity.
// Connections over the cap are closed before any TLS handshake happens.
type boundedListener struct {
	net.Listener
	sem      chan struct{}
	lifetime time.Duration
	sink     audit.Sink
}

func newBoundedListener(inner net.Listener, maxConns int, lifetime time.Duration, sink audit.Sink) *boundedListener {
	return &boundedListener{
		Listener: inner,
		sem:      make(chan struct{}, maxConns),
		lifetime: lifetime,
		sink:     sink,
	}
}

func (l *boundedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		select {
		case l.sem <- struct{}{}:
		default:
			audit.Record(l.sink, audit.EventRejected, conn.RemoteAddr().String(), map[string]any{
				"reason": "max_connections",
			})
			conn.Close()
			continue
		}

		var expiry time.Time
		if l.lifetime > 0 {
			// Slow-loris defense: the connection dies at this deadline no
			// matter how much traffic it trickles.
			expiry = time.Now().Add(l.lifetime)
			if err := conn.SetDeadline(expiry); err != nil {
				<-l.sem
				conn.Close()
				continue
			}
		}
		return &countedConn{Conn: conn, expiry: expiry, release: func() { <-l.sem }}, nil
	}
}

// countedConn releases its listener slot exactly once on close and keeps the
// accept-time lifetime absolute: net/http re-arms read deadlines per request,
// so every deadline set later is clamped to the expiry.
type countedConn struct {
	net.Conn
	expiry  time.Time
	once    sync.Once
	release func()
}

func (c *countedConn) clamp(t time.Time) time.Time {
	if c.expiry.IsZero() {
		return t
	}
	if t.IsZero() || t.After(c.expiry) {
		return c.expiry
	}
	return t
}

func (c *countedConn) SetDeadline(t time.Time) error {
	return c.Conn.SetDeadline(c.clamp(t))
}

func (c *countedConn) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(c.clamp(t))
}

func (c *countedConn) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(c.clamp(t))
}

func (c *countedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
