package processor

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"mariadb-cdc/internal/models"
)

// Source delivers replication session messages
type Source interface {
	Events() <-chan models.Message
}

// Publisher interface for publishing events
type Publisher interface {
	Publish(event *models.ChangeEvent) error
}

// Processor consumes session messages, transforms change events and publishes them
type Processor struct {
	source      Source
	publisher   Publisher
	transformer *Transformer
	logger      *logrus.Logger
}

// NewProcessor creates a new event processor. transformer may be nil.
func NewProcessor(source Source, publisher Publisher, transformer *Transformer, logger *logrus.Logger) *Processor {
	return &Processor{
		source:      source,
		publisher:   publisher,
		transformer: transformer,
		logger:      logger,
	}
}

// Start processes messages until the source closes, a fatal message arrives
// or ctx is cancelled. Only a fatal message is returned as an error.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("Starting event processor...")
	events := p.source.Events()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Context cancelled, stopping event processor")
			return nil
		case msg, ok := <-events:
			if !ok {
				p.logger.Info("Replication stream closed, stopping event processor")
				return nil
			}
			switch msg.Kind {
			case models.KindChange:
				p.handleChange(msg.Change)
			case models.KindDataError:
				p.logger.WithFields(logrus.Fields{
					"event":   msg.EventType,
					"log_pos": msg.LogPos,
				}).Errorf("Could not decode event: %v", msg.Err)
			case models.KindFatal:
				return msg.Err
			default:
				p.logger.Debugf("Passing over %s at %d", msg.EventType, msg.LogPos)
			}
		}
	}
}

func (p *Processor) handleChange(changeEvent *models.ChangeEvent) {
	// kept for logging, a rejected event is nil afterwards
	database, table, operation := changeEvent.Database, changeEvent.Table, changeEvent.Operation

	if p.transformer != nil {
		var err error
		changeEvent, err = p.transformer.Transform(changeEvent)
		if errors.Is(err, ErrEventRejected) || (err == nil && changeEvent == nil) {
			p.logger.Debugf("Event rejected by transformer: %s.%s (operation: %s)", database, table, operation)
			return
		}
		if err != nil {
			p.logger.Errorf("Error transforming event: %v", err)
			return
		}
	}

	if err := p.publisher.Publish(changeEvent); err != nil {
		p.logger.Errorf("Error publishing event: %v", err)
		return
	}
	p.logger.Infof("Processed %s event for %s.%s (%d rows)", operation, database, table, len(changeEvent.Rows))
}
