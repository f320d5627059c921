// Package natsx opens the NATS connection used for telemetry.
package natsx

import (
	"errors"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConfigured is returned when no server URL is available.
var ErrNotConfigured = errors.New("nats: no server url configured")

// NewClient connects to url, or to NATS_URL when url is empty. Without options
// the connection is named "relay", compressed, and reconnects forever.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if url == "" {
		url = os.Getenv("NATS_URL")
	}
	if url == "" {
		return nil, ErrNotConfigured
	}
	if len(opts) == 0 {
		opts = append(opts,
			nats.Name("relay"),
			nats.Compression(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
	}
	return nats.Connect(url, opts...)
}
