package testutils

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

var waitDur = 5 * time.Second

// WaitSuccessfulDial waits until a TCP dial to address succeeds.
func WaitSuccessfulDial(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, waitDur)
	defer cancel()
	lastErr := errors.New("timed out dialing")
	var d net.Dialer
	for {
		select {
		case <-ctx.Done():
			return lastErr
		default:
		}
		var conn net.Conn
		conn, lastErr = d.DialContext(ctx, "tcp", address)
		if lastErr == nil {
			return conn.Close()
		}
	}
}
