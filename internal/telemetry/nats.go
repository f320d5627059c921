package telemetry

import (
	"context"
	"log/slog"

	"github.com/casualjim/relay/pkg/slogx"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes the subjects records are published on.
const DefaultSubjectPrefix = "relay.telemetry"

// NATS publishes records as JSON on <prefix>.usage, <prefix>.fallback and
// <prefix>.failure. The client buffers publishes, so nothing waits on the
// network.
type NATS struct {
	client *nats.Conn
	prefix string
}

func NewNATS(client *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{client: client, prefix: prefix}
}

func (n *NATS) RecordUsage(ctx context.Context, u Usage) {
	stamp(&u.Timestamp)
	n.publish(ctx, "usage", u)
}

func (n *NATS) RecordFallback(ctx context.Context, f Fallback) {
	stamp(&f.Timestamp)
	n.publish(ctx, "fallback", f)
}

func (n *NATS) RecordFailure(ctx context.Context, f Failure) {
	stamp(&f.Timestamp)
	n.publish(ctx, "failure", f)
}

// Subject returns the subject a kind of record is published on.
func (n *NATS) Subject(kind string) string {
	return n.prefix + "." + kind
}

func (n *NATS) publish(ctx context.Context, kind string, record any) {
	log := slog.Default().With(slogx.LoggerName("relay.telemetry.nats"))
	data, err := json.Marshal(record)
	if err != nil {
		log.WarnContext(ctx, "failed to encode telemetry record", slog.String("kind", kind), slogx.Error(err))
		return
	}
	if err := n.client.Publish(n.Subject(kind), data); err != nil {
		log.WarnContext(ctx, "failed to publish telemetry record", slog.String("kind", kind), slogx.Error(err))
	}
}
