// Package netcheck classifies pairing hosts before any connection attempt.
// Pairing only works across the local network; anything routable is rejected
// to keep a hostile payload from steering the agent at an arbitrary target.
package netcheck

import (
	"errors"
	"net"
	"strings"
)

// ErrNotLocalNetwork indicates the host is not a local-network address.
var ErrNotLocalNetwork = errors.New("host is not on the local network")

// HostClass is the classification of a pairing host.
type HostClass string

const (
	ClassLoopback    HostClass = "loopback"
	ClassPrivateIPv4 HostClass = "private_ipv4"
	ClassLinkLocal   HostClass = "ipv6_link_local"
	ClassMDNSName    HostClass = "mdns_name"
	ClassRejected    HostClass = "rejected"
)

// Classify buckets a host string. Only the first four classes are acceptable
// pairing targets.
func Classify(host string) HostClass {
	host = strings.TrimSpace(host)
	if host == "" {
		return ClassRejected
	}

	if strings.HasSuffix(strings.ToLower(strings.TrimSuffix(host, ".")), ".local") {
		return ClassMDNSName
	}

	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return ClassRejected
	}
	switch {
	case ip.IsLoopback():
		return ClassLoopback
	case ip.To4() != nil && ip.IsPrivate():
		return ClassPrivateIPv4
	case ip.To4() == nil && ip.IsLinkLocalUnicast():
		return ClassLinkLocal
	default:
		return ClassRejected
	}
}

// CheckLocal returns ErrNotLocalNetwork unless host classifies as a
// local-network target.
func CheckLocal(host string) error {
	if Classify(host) == ClassRejected {
		return ErrNotLocalNetwork
	}
	return nil
}
