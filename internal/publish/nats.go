// Package publish forwards classified scan results to NATS so other tools can
// consume them without polling the console.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/scan"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Message is the payload published for every result.
type Message struct {
	ID          string                `json:"id"`
	PublishedAt time.Time             `json:"published_at"`
	Target      string                `json:"target_ip"`
	ScanType    string                `json:"scan_type"`
	Kind        scan.Kind             `json:"kind"`
	Ports       []scan.PortResult     `json:"ports,omitempty"`
	Protocols   []scan.ProtocolResult `json:"protocols,omitempty"`
	OS          *scan.OSResult        `json:"os,omitempty"`
}

// Publisher implements scan.Publisher on top of NATS.
type Publisher struct {
	conn    Conn
	subject string
	now     func() time.Time
}

// Connect dials the NATS server and returns a publisher for subject.
func Connect(url, subject string, logger *logging.Logger) (*Publisher, error) {
	log := logger.WithComponent("publish")
	nc, err := nats.Connect(url,
		nats.Name("scanconsole"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewPublisher(nc, subject), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject, now: time.Now}
}

// Subject returns the subject a result of kind is published on.
func (p *Publisher) Subject(kind scan.Kind) string {
	return p.subject + "." + string(kind)
}

// Publish implements scan.Publisher. Error results are not published.
func (p *Publisher) Publish(_ context.Context, r scan.Result) error {
	if r.Kind == scan.KindError {
		return nil
	}

	msg := Message{
		ID:          uuid.NewString(),
		PublishedAt: p.now().UTC(),
		Target:      r.Target,
		ScanType:    r.ScanType.String(),
		Kind:        r.Kind,
		Ports:       r.Ports,
		OS:          r.OS,
	}
	if r.Protocols != nil {
		msg.Protocols = r.Protocols.Protocols
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := p.conn.Publish(p.Subject(r.Kind), data); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
