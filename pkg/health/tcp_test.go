package health

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a port that nothing is listening on
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestTCPChecker_Listening(t *testing.T) {
	ln, _ := listen(t)

	result := NewTCPChecker(ln.Addr().String()).Check(context.Background())
	assert.True(t, result.Healthy, result.Message)
	assert.NoError(t, result.Err)
	assert.Equal(t, CheckTypeTCP, NewTCPChecker("x").Type())
}

func TestTCPChecker_Refused(t *testing.T) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(closedPort(t)))

	result := NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Error(t, result.Err)
}

func TestProbe(t *testing.T) {
	_, a := listen(t)
	_, b := listen(t)

	require.NoError(t, Probe(context.Background(), "127.0.0.1", []int{a, b}, time.Second))

	closed := closedPort(t)
	err := Probe(context.Background(), "127.0.0.1", []int{a, closed}, time.Second)

	var perr *ProbeError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(closed)), perr.Address)
}

func TestTCPChecker_ContextDeadlineCapsDial(t *testing.T) {
	ln, _ := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	result := NewTCPChecker(ln.Addr().String()).Check(ctx)
	assert.False(t, result.Healthy)
	assert.Error(t, result.Err)
	assert.Less(t, time.Since(start), DefaultDialTimeout)
	assert.Equal(t, DefaultDialTimeout, NewTCPChecker("x").Timeout)
}
