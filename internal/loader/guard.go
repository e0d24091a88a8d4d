package loader

import (
	"errors"
	"net"
	"net/netip"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrNotAllowed is the Done error for an s3 object or ssm parameter
	// outside the configured allowlist.
	ErrNotAllowed = errors.New("target not in allowlist")

	// ErrBlockedAddress is returned when an http load would connect to a
	// loopback, link-local, private or otherwise internal address.
	ErrBlockedAddress = errors.New("destination address not allowed")
)

// ranges IsPrivate and IsGlobalUnicast do not cover
var internalPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b::/96"), // NAT64 can reach any v4 address
}

// blockedAddr reports whether a resolved address is internal to the host or
// its network.
func blockedAddr(a netip.Addr) bool {
	a = a.Unmap()
	if !a.IsGlobalUnicast() || a.IsPrivate() {
		return true
	}
	for _, p := range internalPrefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// dialControl runs after name resolution for every connection, redirects
// included, so it sees the address actually dialed.
func dialControl(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return ErrBlockedAddress
	}
	if blockedAddr(ap.Addr()) {
		return ErrBlockedAddress
	}
	return nil
}

func guardedDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   dialControl,
	}
}

// allowed matches name against entries that are either an exact name or a
// path prefix ending at a '/' boundary: "bucket" allows "bucket/any/key",
// "/app/public" allows "/app/public/x" but not "/app/publicity". A nil
// list allows everything.
func allowed(list []string, name string) bool {
	if list == nil {
		return true
	}
	for _, e := range list {
		if e == "" {
			continue
		}
		if name == e {
			return true
		}
		prefix := e
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
