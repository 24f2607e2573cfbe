package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ahrdadan/weavecheck/internal/queue"
	"github.com/nats-io/nats.go"
)

const defaultPort = "4222"

// Publisher sends run events to an existing NATS server
type Publisher struct {
	url     string
	subject string
	nc      *nats.Conn
	mu      sync.Mutex
	closed  bool
}

// Connect dials the NATS server at natsURL. Events are published on
// <subject>.<run_id>.
func Connect(natsURL, subject string) (*Publisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("NATS subject is required")
	}

	if !isReachable(natsURL) {
		return nil, fmt.Errorf("NATS server not reachable at %s", natsURL)
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("weavecheck"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("Warning: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Printf("Publishing run events to %s on %s.>", natsURL, subject)
	return &Publisher{
		url:     natsURL,
		subject: subject,
		nc:      nc,
	}, nil
}

// Publish sends a queue event
func (p *Publisher) Publish(event queue.Event) error {
	return p.PublishJSON(event.RunID, event)
}

// PublishJSON sends v as JSON on the subject for runID
func (p *Publisher) PublishJSON(runID string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("publisher closed")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.nc.Publish(Subject(p.subject, runID), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes pending events and closes the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// Subject returns the subject events for runID are published on
func Subject(prefix, runID string) string {
	runID = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(runID)
	return prefix + "." + runID
}

func isReachable(natsURL string) bool {
	host, port, err := parseNatsURL(natsURL)
	if err != nil {
		return false
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func parseNatsURL(natsURL string) (host, port string, err error) {
	if !strings.Contains(natsURL, "://") {
		natsURL = "nats://" + natsURL
	}

	u, err := url.Parse(natsURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid NATS URL %s: %w", natsURL, err)
	}

	host = u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("invalid NATS URL format: %s", natsURL)
	}

	port = u.Port()
	if port == "" {
		port = defaultPort
	}

	return host, port, nil
}
