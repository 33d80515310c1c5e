package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultDialTimeout bounds a single connection attempt
const DefaultDialTimeout = 5 * time.Second

// TCPChecker reports whether something accepts connections on Address.
// DBWaiter uses it for the database and Probe for the server's own ports.
// The connection is closed as soon as it is established; nothing is sent.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: DefaultDialTimeout,
	}
}

// Check dials once. The dial ends at Timeout or at the context deadline,
// whichever comes first. A failed dial carries the dial error in Err.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("%s unreachable: %v", t.Address, err),
			CheckedAt: start,
			Duration:  time.Since(start),
			Err:       err,
		}
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s accepting connections", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout overrides the per-dial timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
