package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/odvcencio/appbridge/pkg/logs"
)

// SubjectPrefix roots every log subject.
const SubjectPrefix = "appbridge.logs"

const flushTimeout = 5 * time.Second

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes each record as JSON to
// appbridge.logs.<instance|default>.<source>.
type NATS struct {
	pub  Publisher
	conn *nats.Conn
}

// NATSConfig configures a connection owned by the sink.
type NATSConfig struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// NewNATS connects to a server. The sink closes the connection on Close.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "appbridge-logs"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{pub: conn, conn: conn}, nil
}

// NewNATSPublisher wraps an existing connection or any Publisher. The
// caller keeps ownership.
func NewNATSPublisher(pub Publisher) *NATS {
	return &NATS{pub: pub}
}

// Subject returns the subject a record is published on.
func Subject(instance string, source logs.Source) string {
	name := fileName(instance)
	// NATS tokens cannot contain separators or wildcards.
	name = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(name)
	return SubjectPrefix + "." + name + "." + string(source)
}

func (n *NATS) Write(ctx context.Context, batch []logs.Record) error {
	for _, r := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if err := n.pub.Publish(Subject(r.Instance, r.Source), data); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	if n.conn != nil {
		return n.conn.FlushTimeout(flushTimeout)
	}
	return nil
}

// Close drains an owned connection.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
