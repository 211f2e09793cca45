package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"mariadb-cdc/internal/models"
)

// MultiPublisher hands every event to each of its publishers. An event is
// offered to all of them even if one fails.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(event *models.ChangeEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriterPublisher writes each event as one JSON line
type WriterPublisher struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterPublisher creates a publisher writing to w, typically os.Stdout
func NewWriterPublisher(w io.Writer) *WriterPublisher {
	return &WriterPublisher{w: w}
}

func (p *WriterPublisher) Publish(event *models.ChangeEvent) error {
	data := event.RawJSON
	if len(data) == 0 {
		var err error
		if data, err = json.Marshal(event); err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
	}
	line := make([]byte, 0, len(data)+1)
	line = append(append(line, data...), '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(line); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}
