package replication

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"mariadb-cdc/internal/binlog"
	"mariadb-cdc/internal/models"
)

func TestParseSkipUntil(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want SkipFilter
		err  bool
	}{
		{in: "", want: SkipFilter{}},
		{in: "0-0", want: SkipFilter{}},
		{in: "1657792732-1024", want: SkipFilter{UntilTimestamp: 1657792732, UntilLogPos: 1024}},
		{in: "4096", want: SkipFilter{UntilLogPos: 4096}},
		{in: "1-2-3", err: true},
		{in: "abc", err: true},
		{in: "10-x", err: true},
	} {
		got, err := ParseSkipUntil(tc.in)
		if tc.err {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestSkipBoundary(t *testing.T) {
	f := SkipFilter{UntilTimestamp: 1000, UntilLogPos: 500}
	require.True(t, f.Skip(binlog.Header{Timestamp: 999, NextLogPos: 900}))
	require.True(t, f.Skip(binlog.Header{Timestamp: 1000, NextLogPos: 500}))
	require.False(t, f.Skip(binlog.Header{Timestamp: 1000, NextLogPos: 501}))

	// events without a log position are always skipped
	require.True(t, SkipFilter{}.Skip(binlog.Header{Timestamp: 5}))
	require.False(t, SkipFilter{}.Skip(binlog.Header{Timestamp: 5, NextLogPos: 1}))
}

func newTestSession(t *testing.T, cfg Config, transport *fakeTransport, cat *fakeCatalog, positions PositionStore) *Session {
	logger, _ := test.NewNullLogger()
	if cfg.ServerID == 0 {
		cfg.ServerID = 1001
	}
	s, err := NewSession(cfg, transport, cat, positions, logger)
	require.NoError(t, err)
	return s
}

func TestSessionStreamsChanges(t *testing.T) {
	transport := newFakeTransport(
		rotatePacket("mariadb-bin.000001", 4),
		usersTableMap(9, 1700000000, 200),
		usersInsert(9, 1700000000, 300, 7, "bob"),
		eofPacket(),
	)
	positions := &memoryPositions{}
	s := newTestSession(t, Config{Hostname: "cdc", User: "repl", Port: 3306}, transport, usersCatalog(), positions)

	require.Equal(t, Idle, s.State())
	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, Ended, s.State())

	msgs := drain(s)
	require.Len(t, msgs, 2)
	require.Equal(t, models.KindUnknown, msgs[0].Kind)
	require.Equal(t, "TABLE_MAP_EVENT", msgs[0].EventType)

	require.Equal(t, models.KindChange, msgs[1].Kind)
	change := msgs[1].Change
	require.Equal(t, models.Insert, change.Operation)
	require.Equal(t, "shop", change.Database)
	require.Equal(t, "users", change.Table)
	require.Equal(t, uint32(300), change.LogPos)
	require.Equal(t, map[string]interface{}{"id": uint64(7), "name": "bob"}, change.Rows[0].Columns)
	require.Equal(t, "7", *change.Rows[0].Keys.CompositeKey)

	// register then dump, both with the packet header reserved
	require.Len(t, transport.written, 2)
	require.Equal(t, []byte{0, 0, 0, 0}, transport.written[0][:4])
	require.Equal(t, byte(mysql.COM_REGISTER_SLAVE), transport.written[0][4])
	require.Equal(t, byte(mysql.COM_BINLOG_DUMP), transport.written[1][4])
	require.Equal(t, uint32(4), binary.LittleEndian.Uint32(transport.written[1][5:9]))

	require.Equal(t, mysql.Position{Name: "mariadb-bin.000001", Pos: 300}, s.Position())
	require.Equal(t, mysql.Position{Name: "mariadb-bin.000001", Pos: 4}, positions.saved[0])
}

func TestSessionSkipKeepsTableMaps(t *testing.T) {
	transport := newFakeTransport(
		usersTableMap(9, 1700000000, 200),
		usersInsert(9, 1700000000, 240, 1, "old"),
		usersInsert(9, 1700000000, 300, 2, "new"),
		eofPacket(),
	)
	s := newTestSession(t, Config{SkipUntil: "250"}, transport, usersCatalog(), nil)
	require.NoError(t, s.Run(context.Background()))

	msgs := drain(s)
	require.Len(t, msgs, 1)
	require.Equal(t, models.KindChange, msgs[0].Kind)
	require.Empty(t, msgs[0].Change.Rows[0].Error)
	require.Equal(t, "new", msgs[0].Change.Rows[0].Columns["name"])
}

func TestSessionUnknownTableContinues(t *testing.T) {
	transport := newFakeTransport(
		usersInsert(42, 1700000000, 300, 1, "x"),
		usersTableMap(9, 1700000000, 400),
		usersInsert(9, 1700000000, 500, 2, "y"),
		eofPacket(),
	)
	s := newTestSession(t, Config{}, transport, usersCatalog(), nil)
	require.NoError(t, s.Run(context.Background()))

	msgs := drain(s)
	require.Len(t, msgs, 3)
	require.Equal(t, models.KindChange, msgs[0].Kind)
	row := msgs[0].Change.Rows[0]
	require.Nil(t, row.Keys)
	require.Nil(t, row.Columns)
	require.Contains(t, row.Error, "unknown table id 42")

	require.Equal(t, "y", msgs[2].Change.Rows[0].Columns["name"])
}

func TestSessionChecksumVerificationIsFatal(t *testing.T) {
	transport := newFakeTransport()
	cat := usersCatalog()
	cat.verify = true
	s := newTestSession(t, Config{}, transport, cat, nil)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrIncompatible)
	require.Equal(t, Failed, s.State())
	require.Empty(t, transport.written)

	msgs := drain(s)
	require.Len(t, msgs, 1)
	require.Equal(t, models.KindFatal, msgs[0].Kind)
	require.ErrorIs(t, msgs[0].Err, ErrIncompatible)
}

func TestSessionServerError(t *testing.T) {
	transport := newFakeTransport([]byte{mysql.ERR_HEADER, 0x28, 0x05, '#', 'H', 'Y', '0', '0', '0'})
	s := newTestSession(t, Config{}, transport, usersCatalog(), nil)

	err := s.Run(context.Background())
	require.ErrorContains(t, err, "ERROR 1320")
	require.Equal(t, Failed, s.State())
}

func TestSessionFramingErrorIsFatal(t *testing.T) {
	transport := newFakeTransport([]byte{mysql.OK_HEADER, 1, 2, 3})
	s := newTestSession(t, Config{}, transport, usersCatalog(), nil)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, binlog.ErrFraming)
	msgs := drain(s)
	require.Equal(t, models.KindFatal, msgs[len(msgs)-1].Kind)
}

func TestSessionFatalDeliveredBeforeFailed(t *testing.T) {
	transport := newFakeTransport(
		eventPacket(binlog.XIDEventType, 1700000000, 100, binary.LittleEndian.AppendUint64(nil, 5)),
		[]byte{mysql.OK_HEADER, 1, 2, 3},
	)
	s := newTestSession(t, Config{BufferSize: 1}, transport, usersCatalog(), nil)

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	// the buffer holds the XID passthrough, so the fatal message waits for a reader
	require.Never(t, func() bool { return s.State() == Failed }, 200*time.Millisecond, 10*time.Millisecond)

	require.Equal(t, models.KindUnknown, (<-s.Events()).Kind)
	fatal := <-s.Events()
	require.Equal(t, models.KindFatal, fatal.Kind)
	require.ErrorIs(t, fatal.Err, binlog.ErrFraming)
	require.ErrorIs(t, <-done, binlog.ErrFraming)
	require.Equal(t, Failed, s.State())
}

func TestSessionDataErrorContinues(t *testing.T) {
	transport := newFakeTransport(
		eventPacket(binlog.XIDEventType, 1700000000, 100, []byte{1, 2}),
		eventPacket(binlog.XIDEventType, 1700000000, 200, binary.LittleEndian.AppendUint64(nil, 5)),
		eofPacket(),
	)
	s := newTestSession(t, Config{}, transport, usersCatalog(), nil)
	require.NoError(t, s.Run(context.Background()))

	msgs := drain(s)
	require.Len(t, msgs, 2)
	require.Equal(t, models.KindDataError, msgs[0].Kind)
	require.Error(t, msgs[0].Err)
	require.Equal(t, uint32(100), msgs[0].LogPos)
	require.Equal(t, models.KindUnknown, msgs[1].Kind)
}

func TestSessionHeartbeat(t *testing.T) {
	transport := newFakeTransport(eofPacket())
	s := newTestSession(t, Config{HeartbeatPeriod: 2 * time.Second, AnnounceChecksum: true}, transport, usersCatalog(), nil)
	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, []string{
		"SET @master_heartbeat_period = 2000000000",
		"SET @master_binlog_checksum = @@global.binlog_checksum",
	}, transport.executed)
}

func TestSessionResumesFromStoredPosition(t *testing.T) {
	transport := newFakeTransport(eofPacket())
	stored := mysql.Position{Name: "mariadb-bin.000007", Pos: 1234}
	s := newTestSession(t, Config{Position: mysql.Position{Name: "mariadb-bin.000001"}}, transport, usersCatalog(), &memoryPositions{stored: &stored})
	require.NoError(t, s.Run(context.Background()))

	dump := transport.written[1][4:]
	require.Equal(t, uint32(1234), binary.LittleEndian.Uint32(dump[1:5]))
	require.Equal(t, "mariadb-bin.000007", string(dump[11:]))
}

func TestSessionCancel(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, Config{}, transport, usersCatalog(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == Dumping }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
	require.Equal(t, Ended, s.State())
	require.Empty(t, drain(s))
}

func TestNewSessionValidates(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewSession(Config{SkipUntil: "x-y"}, newFakeTransport(), usersCatalog(), nil, logger)
	require.Error(t, err)
	_, err = NewSession(Config{LogPackets: "some"}, newFakeTransport(), usersCatalog(), nil, logger)
	require.Error(t, err)
}

func TestFilePositionStore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "position")
	store := NewFilePositionStore(path, logger)

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Save(mysql.Position{Name: "mariadb-bin.000003", Pos: 877}))
	pos, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, mysql.Position{Name: "mariadb-bin.000003", Pos: 877}, pos)

	// a bare filename starts at the first event
	require.NoError(t, os.WriteFile(path, []byte("mariadb-bin.000004\n"), 0644))
	pos, ok, err = store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, mysql.Position{Name: "mariadb-bin.000004", Pos: 4}, pos)

	// nothing to save without a file name
	require.NoError(t, store.Save(mysql.Position{Pos: 10}))
}
