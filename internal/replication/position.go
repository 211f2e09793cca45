package replication

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus"
)

// PositionStore persists the last processed binlog position
type PositionStore interface {
	// Load returns the stored position; ok is false when nothing was stored yet
	Load() (pos mysql.Position, ok bool, err error)
	Save(pos mysql.Position) error
}

// FilePositionStore keeps the position in a file as "filename:position"
type FilePositionStore struct {
	path   string
	logger *logrus.Logger
}

// NewFilePositionStore creates a store backed by path
func NewFilePositionStore(path string, logger *logrus.Logger) *FilePositionStore {
	return &FilePositionStore{path: path, logger: logger}
}

func (s *FilePositionStore) Load() (mysql.Position, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return mysql.Position{}, false, nil
	}
	if err != nil {
		return mysql.Position{}, false, fmt.Errorf("failed to read position file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return mysql.Position{}, false, nil
	}

	// filenames may contain colons, the position follows the last one
	pos := mysql.Position{Name: text, Pos: 4}
	if i := strings.LastIndexByte(text, ':'); i > 0 && i < len(text)-1 {
		if n, err := strconv.ParseUint(text[i+1:], 10, 32); err == nil {
			pos.Name = text[:i]
			pos.Pos = uint32(n)
		}
	}
	s.logger.Infof("Loaded binlog position from file: %s", pos)
	return pos, true, nil
}

func (s *FilePositionStore) Save(pos mysql.Position) error {
	if pos.Name == "" {
		return nil
	}
	if err := os.WriteFile(s.path, []byte(fmt.Sprintf("%s:%d", pos.Name, pos.Pos)), 0644); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}
