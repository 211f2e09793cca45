package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus"

	"mariadb-cdc/internal/assembler"
	"mariadb-cdc/internal/binlog"
	"mariadb-cdc/internal/catalog"
	"mariadb-cdc/internal/models"
)

// ErrIncompatible is returned when the server configuration cannot be replicated from
var ErrIncompatible = errors.New("server is not compatible")

// State is the lifecycle state of a Session
type State int32

const (
	Idle State = iota
	CompatibilityChecked
	TableMapPrimed
	Registering
	Registered
	Dumping
	Ended
	Failed
)

var stateNames = [...]string{
	Idle:                 "idle",
	CompatibilityChecked: "compatibility-checked",
	TableMapPrimed:       "table-map-primed",
	Registering:          "registering",
	Registered:           "registered",
	Dumping:              "dumping",
	Ended:                "ended",
	Failed:               "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Packet logging levels
const (
	LogPacketsOff  = ""
	LogPacketsRows = "rows"
	LogPacketsAll  = "all"
)

// Config holds the replica identity and stream options of a Session
type Config struct {
	ServerID uint32
	Hostname string
	User     string
	Password string
	Port     uint16

	// Position is where the dump starts unless the position store has one
	Position  mysql.Position
	SkipUntil string
	// LogPackets is "", "rows" or "all"
	LogPackets string

	HeartbeatPeriod  time.Duration
	AnnounceChecksum bool
	BufferSize       int
}

// Session replicates from one server as a registered replica. It emits every
// outcome on the channel returned by Events, which is closed when Run returns.
type Session struct {
	cfg        Config
	transport  Transport
	catalog    catalog.Catalog
	positions  PositionStore
	logger     *logrus.Logger
	filter     SkipFilter
	dispatcher *binlog.Dispatcher
	assembler  *assembler.Assembler
	events     chan models.Message
	state      atomic.Int32

	mu       sync.Mutex
	position mysql.Position
}

// NewSession creates an idle session. positions may be nil.
func NewSession(cfg Config, transport Transport, cat catalog.Catalog, positions PositionStore, logger *logrus.Logger) (*Session, error) {
	filter, err := ParseSkipUntil(cfg.SkipUntil)
	if err != nil {
		return nil, err
	}
	switch cfg.LogPackets {
	case LogPacketsOff, LogPacketsRows, LogPacketsAll:
	default:
		return nil, fmt.Errorf("invalid log_packets value %q", cfg.LogPackets)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Position.Pos == 0 {
		cfg.Position.Pos = 4
	}
	return &Session{
		cfg:        cfg,
		transport:  transport,
		catalog:    cat,
		positions:  positions,
		logger:     logger,
		filter:     filter,
		dispatcher: binlog.NewDispatcher(binlog.NewRegistry(), logger),
		events:     make(chan models.Message, cfg.BufferSize),
		position:   cfg.Position,
	}, nil
}

// Events returns the channel every session outcome is delivered on
func (s *Session) Events() <-chan models.Message {
	return s.events
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Position returns the position after the last event seen
func (s *Session) Position() mysql.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	s.logger.Debugf("Replication session %s", state)
}

// Run executes the session until the server ends the stream, a fatal error
// occurs or ctx is cancelled. Cancellation is not an error.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.transport.Close()
		case <-stop:
		}
	}()

	err := s.run(ctx)
	if ctx.Err() != nil {
		s.setState(Ended)
		s.logger.Info("Context cancelled, stopping replication session")
		return nil
	}
	if err != nil {
		s.emit(ctx, models.Message{Kind: models.KindFatal, Err: err})
		s.setState(Failed)
		return err
	}
	s.setState(Ended)
	return nil
}

func (s *Session) run(ctx context.Context) error {
	verify, err := s.catalog.ChecksumVerification(ctx)
	if err != nil {
		return err
	}
	if verify {
		return fmt.Errorf("%w: checksums enabled, set binlog_checksum=NONE in the server config", ErrIncompatible)
	}
	s.setState(CompatibilityChecked)

	snapshot, err := catalog.Load(ctx, s.catalog, s.logger)
	if err != nil {
		return fmt.Errorf("failed to load table layout: %w", err)
	}
	s.assembler = assembler.New(snapshot, s.logger)
	s.setState(TableMapPrimed)

	if err := s.prepare(); err != nil {
		return err
	}

	s.setState(Registering)
	if err := s.register(); err != nil {
		return err
	}
	s.setState(Registered)
	s.logger.Infof("Registered as replica with server id %d", s.cfg.ServerID)

	start, err := s.startPosition()
	if err != nil {
		return err
	}
	dump := binlog.BinlogDump{
		Position: start.Pos,
		Flags:    binlog.DumpNeverStop,
		ServerID: s.cfg.ServerID,
		Filename: start.Name,
	}
	if err := writeCommand(s.transport, dump.Encode()); err != nil {
		return fmt.Errorf("failed to request binlog dump: %w", err)
	}
	s.setState(Dumping)
	s.logger.Infof("Started binlog dump from position: %s:%d (skip until %s)", start.Name, start.Pos, s.filter)

	return s.stream(ctx)
}

// prepare sets the session variables the dump depends on
func (s *Session) prepare() error {
	if s.cfg.HeartbeatPeriod > 0 {
		query := fmt.Sprintf("SET @master_heartbeat_period = %d", s.cfg.HeartbeatPeriod.Nanoseconds())
		if _, err := s.transport.Execute(query); err != nil {
			return fmt.Errorf("failed to set heartbeat period: %w", err)
		}
	}
	if s.cfg.AnnounceChecksum {
		if _, err := s.transport.Execute("SET @master_binlog_checksum = @@global.binlog_checksum"); err != nil {
			return fmt.Errorf("failed to announce checksum support: %w", err)
		}
	}
	return nil
}

func (s *Session) register() error {
	cmd := binlog.RegisterReplica{
		ServerID: s.cfg.ServerID,
		Hostname: s.cfg.Hostname,
		User:     s.cfg.User,
		Password: s.cfg.Password,
		Port:     s.cfg.Port,
	}
	if err := writeCommand(s.transport, cmd.Encode()); err != nil {
		return fmt.Errorf("failed to register replica: %w", err)
	}
	if _, err := s.transport.ReadOKPacket(); err != nil {
		return fmt.Errorf("failed to register replica: %w", err)
	}
	return nil
}

func (s *Session) startPosition() (mysql.Position, error) {
	if s.positions != nil {
		pos, ok, err := s.positions.Load()
		if err != nil {
			return pos, err
		}
		if ok {
			s.mu.Lock()
			s.position = pos
			s.mu.Unlock()
			return pos, nil
		}
	}
	return s.Position(), nil
}

func (s *Session) stream(ctx context.Context) error {
	for {
		data, err := s.transport.ReadPacket()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fmt.Errorf("replication connection closed: %w", err)
		}
		if len(data) == 0 {
			return fmt.Errorf("%w: empty packet", binlog.ErrFraming)
		}

		switch data[0] {
		case mysql.OK_HEADER:
			if err := s.handle(ctx, data); err != nil {
				return err
			}
		case mysql.ERR_HEADER:
			return fmt.Errorf("server error during dump: %w", s.transport.HandleErrorPacket(data))
		case mysql.EOF_HEADER:
			s.logger.Info("Server ended the binlog stream")
			return nil
		default:
			return fmt.Errorf("%w: unexpected packet marker 0x%02x", binlog.ErrFraming, data[0])
		}
	}
}

// handle processes one event packet. Only framing errors are returned.
func (s *Session) handle(ctx context.Context, data []byte) error {
	h, err := binlog.ParseHeader(data)
	if err != nil {
		return err
	}

	kind := h.Type.Kind()
	skip := s.filter.Skip(h)
	if skip && !keepsState(kind) {
		s.logger.Debugf("Skipping %s at %d (until %s)", h.Type, h.NextLogPos, s.filter)
		s.track(h, nil)
		return nil
	}

	ev := s.dispatcher.DecodeBody(h, data)
	s.track(h, ev.Body)
	if skip {
		s.logger.Debugf("Skipping %s at %d (until %s)", h.Type, h.NextLogPos, s.filter)
		return nil
	}
	s.logPacket(ev)

	var unknownTable *binlog.UnknownTableError
	if ev.Err != nil && !errors.As(ev.Err, &unknownTable) {
		s.emit(ctx, models.Message{
			Kind:      models.KindDataError,
			EventType: h.Type.String(),
			LogPos:    h.NextLogPos,
			Timestamp: h.Timestamp,
			Err:       ev.Err,
		})
		return nil
	}

	if rows, ok := ev.Body.(*binlog.RowsEvent); ok {
		change, err := s.assembler.Assemble(h, rows)
		if err != nil {
			s.emit(ctx, models.Message{Kind: models.KindDataError, EventType: h.Type.String(), LogPos: h.NextLogPos, Timestamp: h.Timestamp, Err: err})
			return nil
		}
		s.emit(ctx, models.Message{Kind: models.KindChange, Change: change, EventType: h.Type.String(), LogPos: h.NextLogPos, Timestamp: h.Timestamp})
		return nil
	}

	s.emit(ctx, models.Message{
		Kind:      models.KindUnknown,
		EventType: h.Type.String(),
		LogPos:    h.NextLogPos,
		Timestamp: h.Timestamp,
	})
	return nil
}

// keepsState reports whether a skipped event must still be decoded
func keepsState(kind binlog.Kind) bool {
	switch kind {
	case binlog.KindTableMap, binlog.KindRotate, binlog.KindFormatDescription:
		return true
	}
	return false
}

// track advances the position and persists it
func (s *Session) track(h binlog.Header, body binlog.Body) {
	s.mu.Lock()
	if rotate, ok := body.(*binlog.RotateEvent); ok {
		s.position = mysql.Position{Name: rotate.NextLogName, Pos: uint32(rotate.Position)}
		s.logger.Infof("Binlog rotated to: %s", rotate.NextLogName)
	} else if h.NextLogPos > 0 {
		s.position.Pos = h.NextLogPos
	} else {
		s.mu.Unlock()
		return
	}
	pos := s.position
	s.mu.Unlock()

	if s.positions != nil {
		if err := s.positions.Save(pos); err != nil {
			s.logger.Warnf("Failed to save position: %v", err)
		}
	}
}

func (s *Session) logPacket(ev *binlog.Event) {
	if s.cfg.LogPackets == LogPacketsOff {
		return
	}
	text, routine := ev.Summary()
	if !routine || s.cfg.LogPackets == LogPacketsAll {
		s.logger.Info(text)
	}
}

func (s *Session) emit(ctx context.Context, msg models.Message) {
	select {
	case s.events <- msg:
	case <-ctx.Done():
	}
}
