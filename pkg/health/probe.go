package health

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultProbePorts are the server agent port and the console API port
var DefaultProbePorts = []int{2222, 2223}

// ProbeError names the address that refused the probe
type ProbeError struct {
	Address string
	Message string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s unreachable: %s", e.Address, e.Message)
}

// Probe checks that every port on host accepts a TCP connection. It stops at
// the first failure.
func Probe(ctx context.Context, host string, ports []int, timeout time.Duration) error {
	for _, port := range ports {
		address := net.JoinHostPort(host, strconv.Itoa(port))
		result := NewTCPChecker(address).WithTimeout(timeout).Check(ctx)
		if !result.Healthy {
			return &ProbeError{Address: address, Message: result.Err.Error()}
		}
	}
	return nil
}
