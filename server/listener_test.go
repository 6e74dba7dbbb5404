package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pairlock/pairlock/pkg/audit"
)

func TestBoundedListener_CapsConnections(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer inner.Close()

	sink := audit.NewMemorySink()
	bounded := newBoundedListener(inner, 2, time.Minute, sink)

	accepted := make(chan net.Conn, 3)
	go func() {
		for {
			conn, err := bounded.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	var dialed []net.Conn
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", inner.Addr().String())
		require.NoError(t, err)
		dialed = append(dialed, conn)
	}
	defer func() {
		for _, conn := range dialed {
			conn.Close()
		}
	}()

	// Two accepts fit under the cap; the third is closed by the listener.
	first := <-accepted
	second := <-accepted
	select {
	case <-accepted:
		t.Fatal("connection over the cap was accepted")
	case <-time.After(200 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		for _, e := range sink.Events() {
			if e.Type == audit.EventRejected {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// Closing an accepted connection frees a slot for the next dial.
	require.NoError(t, first.Close())
	conn, err := net.Dial("tcp", inner.Addr().String())
	require.NoError(t, err)
	dialed = append(dialed, conn)

	select {
	case next := <-accepted:
		next.Close()
	case <-time.After(time.Second):
		t.Fatal("freed slot was not reused")
	}
	second.Close()
}

// deadlineConn records the deadlines actually applied to the wrapped conn.
type deadlineConn struct {
	net.Conn
	lastRead  time.Time
	lastWrite time.Time
}

func (c *deadlineConn) SetDeadline(t time.Time) error {
	c.lastRead, c.lastWrite = t, t
	return nil
}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	c.lastRead = t
	return nil
}

func (c *deadlineConn) SetWriteDeadline(t time.Time) error {
	c.lastWrite = t
	return nil
}

func TestCountedConn_ClampsDeadlinesToLifetime(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	inner := &deadlineConn{Conn: server}
	expiry := time.Now().Add(time.Minute)
	conn := &countedConn{Conn: inner, expiry: expiry, release: func() {}}

	// Later deadlines, like the ones http.Server arms per request from its
	// read and idle timeouts, never extend past the accept-time expiry.
	require.NoError(t, conn.SetReadDeadline(expiry.Add(time.Hour)))
	require.Equal(t, expiry, inner.lastRead)

	require.NoError(t, conn.SetWriteDeadline(expiry.Add(time.Hour)))
	require.Equal(t, expiry, inner.lastWrite)

	// Clearing a deadline re-arms the expiry instead of disarming it.
	require.NoError(t, conn.SetReadDeadline(time.Time{}))
	require.Equal(t, expiry, inner.lastRead)

	// Earlier deadlines pass through untouched.
	sooner := time.Now().Add(time.Second)
	require.NoError(t, conn.SetDeadline(sooner))
	require.Equal(t, sooner, inner.lastRead)
	require.Equal(t, sooner, inner.lastWrite)

	// No lifetime configured: deadlines pass through as given.
	unbounded := &countedConn{Conn: inner, release: func() {}}
	require.NoError(t, unbounded.SetReadDeadline(time.Time{}))
	require.True(t, inner.lastRead.IsZero())
}

func TestBoundedListener_LifetimeCapsActiveConnection(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer inner.Close()

	bounded := newBoundedListener(inner, 4, 300*time.Millisecond, audit.NewMemorySink())
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}),
		ReadTimeout: 2 * time.Second,
		IdleTimeout: 2 * time.Second,
	}
	go srv.Serve(bounded)
	defer srv.Close()

	// Keep one connection busy with keep-alive requests. The server's own
	// timeouts keep re-arming deadlines, but the lifetime still cuts the
	// connection off.
	conn, err := net.Dial("tcp", inner.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	start := time.Now()
	var served int
	for time.Since(start) < 2*time.Second {
		if _, err := fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: pairlock\r\n\r\n"); err != nil {
			break
		}
		resp, err := http.ReadResponse(reader, nil)
		if err != nil {
			break
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		served++
		time.Sleep(50 * time.Millisecond)
	}

	require.Greater(t, served, 0)
	require.Less(t, time.Since(start), time.Second)
}

func TestCountedConn_ReleaseOnce(t *testing.T) {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}

	client, server := net.Pipe()
	defer client.Close()

	conn := &countedConn{Conn: server, release: func() { <-sem }}
	require.NoError(t, conn.Close())
	conn.Close()

	// The slot was released exactly once.
	require.Len(t, sem, 0)
	sem <- struct{}{}
}
