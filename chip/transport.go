// Package chip negotiates a secure channel with a contactless travel
// document, reads its data groups and verifies passive authentication.
// The radio link itself is out of scope: the platform supplies it as an
// opaque byte exchange Transport.
package chip

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced by a chip session.
var (
	// ErrAuthentication covers BAC/PACE key derivation and token failures.
	ErrAuthentication = errors.New("chip authentication failed")

	// ErrTimeout indicates the chip stopped responding within the bound.
	ErrTimeout = errors.New("chip timed out")

	// ErrDataGroupRead is recorded per data group and is non fatal unless
	// the group is essential.
	ErrDataGroupRead = errors.New("data group read failed")

	// ErrPassiveAuthentication flags a security object that failed
	// verification; advisory, never aborts the read.
	ErrPassiveAuthentication = errors.New("passive authentication failed")

	// ErrTransport covers failures of the underlying contactless link.
	ErrTransport = errors.New("chip transport error")
)

// Transport is the opaque byte exchange channel provided by the
// platform's contactless card driver.
type Transport interface {
	// Connect opens the link to the chip.
	Connect() error

	// Transceive sends one APDU and blocks until the chip answers.
	Transceive(command []byte) ([]byte, error)

	// Close releases the link. Must be safe to call in any state.
	Close() error
}

// transceive bounds a blocking Transceive call with the context deadline.
// The underlying driver call cannot be interrupted, so on timeout the
// response is abandoned and the session moves to a terminal state; the
// transport is closed by the session teardown.
func transceive(ctx context.Context, transport Transport, command []byte) ([]byte, error) {
	type outcome struct {
		response []byte
		err      error
	}

	results := make(chan outcome, 1)
	go func() {
		response, err := transport.Transceive(command)
		results <- outcome{response: response, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no response within bound", ErrTimeout)
		}
		return nil, ctx.Err()
	case result := <-results:
		if result.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, result.err)
		}
		return result.response, nil
	}
}
