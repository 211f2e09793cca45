package replication

import (
	"fmt"
	"strconv"
	"strings"

	"mariadb-cdc/internal/binlog"
)

// SkipFilter discards events that were already processed before a restart
type SkipFilter struct {
	UntilTimestamp uint32
	UntilLogPos    uint32
}

// ParseSkipUntil parses "<unixTimestamp>-<logPosition>" or "<logPosition>".
// An empty string skips nothing but events without a log position.
func ParseSkipUntil(s string) (SkipFilter, error) {
	if s == "" {
		return SkipFilter{}, nil
	}
	parts := strings.Split(s, "-")
	var f SkipFilter
	switch len(parts) {
	case 1:
		pos, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return f, fmt.Errorf("invalid skip position %q: %w", s, err)
		}
		f.UntilLogPos = uint32(pos)
	case 2:
		ts, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return f, fmt.Errorf("invalid skip timestamp %q: %w", s, err)
		}
		pos, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return f, fmt.Errorf("invalid skip position %q: %w", s, err)
		}
		f.UntilTimestamp, f.UntilLogPos = uint32(ts), uint32(pos)
	default:
		return f, fmt.Errorf("invalid skip value %q, want <timestamp>-<position>", s)
	}
	return f, nil
}

// Skip reports whether the event must be discarded
func (f SkipFilter) Skip(h binlog.Header) bool {
	return h.Timestamp < f.UntilTimestamp || h.NextLogPos <= f.UntilLogPos
}

func (f SkipFilter) String() string {
	return fmt.Sprintf("%d-%d", f.UntilTimestamp, f.UntilLogPos)
}
