package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"mariadb-cdc/internal/models"
)

// Publisher handles publishing events to NATS
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Logger
}

// NewPublisher creates a new NATS publisher
func NewPublisher(url, subject string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("mariadb-cdc"),
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)
	return NewPublisherWithConn(conn, subject, logger), nil
}

// NewPublisherWithConn publishes over an existing connection
func NewPublisherWithConn(conn *nats.Conn, subject string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}
}

// Subject returns the subject an event is published on. A subject ending in
// ".>" is expanded to <prefix>.<database>.<table>.<operation>.
func (p *Publisher) Subject(event *models.ChangeEvent) string {
	prefix, ok := strings.CutSuffix(p.subject, ".>")
	if !ok {
		return p.subject
	}
	return fmt.Sprintf("%s.%s.%s.%s", prefix, subjectToken(event.Database), subjectToken(event.Table), event.Operation)
}

// subjectToken makes a name usable as a single subject token
func subjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
}

// Publish publishes a change event to NATS
func (p *Publisher) Publish(event *models.ChangeEvent) error {
	// a script transform may have added fields, RawJSON carries them
	data := event.RawJSON
	if len(data) == 0 {
		var err error
		if data, err = json.Marshal(event); err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
	}

	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published %s event for %s.%s on %s", event.Operation, event.Database, event.Table, subject)
	return nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Conn returns the underlying NATS connection
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}
