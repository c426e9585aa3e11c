// Package ports holds the platform-dependent corner of the supervisor: TCP
// port probing, port-to-PID discovery and process termination. Everything
// else in the supervisor is portable and funnels through the small surface
// exposed here.
package ports

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// isAddrInUse reports whether a bind failure means the address is held by
// another socket, across the error shapes the supported platforms produce.
func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "only one usage of each socket address")
}

// ipv6Counterpart returns the IPv6 address to probe alongside an IPv4 host,
// or "" when the host has no meaningful IPv6 equivalent. Explicit non-local
// hosts are probed on IPv4 only: binding an address the machine does not own
// fails outright rather than reporting "in use".
func ipv6Counterpart(host string) string {
	switch host {
	case "", "0.0.0.0":
		return "::"
	case "localhost", "127.0.0.1":
		return "::1"
	default:
		return ""
	}
}

// IsPortFree reports whether a listening socket can currently be bound on
// host:port, checking IPv4 and (for local hosts) IPv6. An in-use socket on
// either family means not free. A bind failure that is not "address in use"
// (malformed host, unroutable address) is surfaced as an error so callers
// can treat it as a configuration problem instead of a busy port.
//
// The probe binds and immediately closes, so a verdict of "free" can be
// stale by the time the caller acts on it; startup verification re-checks.
func IsPortFree(host string, port int) (bool, error) {
	if port <= 0 || port > 65535 {
		return false, fmt.Errorf("invalid port %d", port)
	}

	addrs := []string{net.JoinHostPort(host, fmt.Sprintf("%d", port))}
	if v6 := ipv6Counterpart(host); v6 != "" {
		addrs = append(addrs, net.JoinHostPort(v6, fmt.Sprintf("%d", port)))
	}

	for _, addr := range addrs {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			if isAddrInUse(err) {
				return false, nil
			}
			return false, fmt.Errorf("probe bind on %s: %w", addr, err)
		}
		l.Close()
	}
	return true, nil
}
