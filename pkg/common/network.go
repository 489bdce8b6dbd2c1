package common

import (
	"context"
	"net"
	"sync"
)

var (
	ipv6Once      sync.Once
	ipv6Available bool
)

// IsIPv6Available reports whether the host has a route to the public IPv6
// internet. The result is cached for the life of the process.
func IsIPv6Available() bool {
	ipv6Once.Do(func() {
		conn, err := net.Dial("udp6", "[2001:4860:4860::8888]:53")
		if err != nil {
			return
		}
		conn.Close()
		ipv6Available = true
	})
	return ipv6Available
}

func DialContextIPv6(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp6", address)
}
