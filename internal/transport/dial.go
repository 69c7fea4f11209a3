package transport

import (
	"context"
	"net"
	"time"
)

// Dial connects to a peer at the given TCP address (e.g. "host:port"),
// giving up after timeout or when ctx is done.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}
