package replication

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/go-mysql-org/go-mysql/mysql"

	"mariadb-cdc/internal/binlog"
	"mariadb-cdc/internal/catalog"
	"mariadb-cdc/internal/models"
)

type fakeTransport struct {
	mu       sync.Mutex
	packets  [][]byte
	written  [][]byte
	executed []string
	okErr    error
	closed   chan struct{}
	once     sync.Once
}

func newFakeTransport(packets ...[]byte) *fakeTransport {
	return &fakeTransport{packets: packets, closed: make(chan struct{})}
}

func (f *fakeTransport) ResetSequence() {}

func (f *fakeTransport) WritePacket(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) ReadPacket() ([]byte, error) {
	f.mu.Lock()
	if len(f.packets) > 0 {
		p := f.packets[0]
		f.packets = f.packets[1:]
		f.mu.Unlock()
		return p, nil
	}
	f.mu.Unlock()
	<-f.closed
	return nil, errors.New("connection closed")
}

func (f *fakeTransport) ReadOKPacket() (*mysql.Result, error) {
	return nil, f.okErr
}

func (f *fakeTransport) HandleErrorPacket(data []byte) error {
	return fmt.Errorf("ERROR %d", binary.LittleEndian.Uint16(data[1:3]))
}

func (f *fakeTransport) Execute(command string, args ...interface{}) (*mysql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, command)
	return nil, nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeCatalog struct {
	verify bool
	tables map[string][]catalog.ColumnDescriptor
}

func (f *fakeCatalog) Database() string { return "shop" }

func (f *fakeCatalog) ChecksumVerification(context.Context) (bool, error) { return f.verify, nil }

func (f *fakeCatalog) ListTables(context.Context) ([]string, error) {
	var names []string
	for name := range f.tables {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeCatalog) Describe(_ context.Context, table string) ([]catalog.ColumnDescriptor, error) {
	return f.tables[table], nil
}

func usersCatalog() *fakeCatalog {
	return &fakeCatalog{tables: map[string][]catalog.ColumnDescriptor{
		"users": {
			{Name: "id", BaseType: "int", IsPrimaryKey: true},
			{Name: "name", BaseType: "varchar"},
		},
	}}
}

type memoryPositions struct {
	stored *mysql.Position
	saved  []mysql.Position
}

func (m *memoryPositions) Load() (mysql.Position, bool, error) {
	if m.stored == nil {
		return mysql.Position{}, false, nil
	}
	return *m.stored, true, nil
}

func (m *memoryPositions) Save(pos mysql.Position) error {
	m.saved = append(m.saved, pos)
	return nil
}

func eventPacket(typ binlog.EventType, ts, next uint32, body []byte) []byte {
	p := []byte{mysql.OK_HEADER}
	p = binary.LittleEndian.AppendUint32(p, ts)
	p = append(p, byte(typ))
	p = binary.LittleEndian.AppendUint32(p, 1)
	p = binary.LittleEndian.AppendUint32(p, uint32(binlog.HeaderSize+len(body)))
	p = binary.LittleEndian.AppendUint32(p, next)
	p = binary.LittleEndian.AppendUint16(p, 0)
	return append(p, body...)
}

func rotatePacket(name string, pos uint64) []byte {
	body := binary.LittleEndian.AppendUint64(nil, pos)
	return eventPacket(binlog.RotateEventType, 0, 0, append(body, name...))
}

func tableID(id uint64) []byte {
	return []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24), byte(id >> 32), byte(id >> 40)}
}

// users: id INT, name VARCHAR(20)
func usersTableMap(id uint64, ts, next uint32) []byte {
	b := append(tableID(id), 0, 0)
	b = append(b, 4, 's', 'h', 'o', 'p', 0)
	b = append(b, 5, 'u', 's', 'e', 'r', 's', 0)
	b = append(b, 2, binlog.TypeLong, binlog.TypeVarchar)
	b = append(b, 2, 20, 0)
	b = append(b, 0x02)
	return eventPacket(binlog.TableMapEventType, ts, next, b)
}

func usersInsert(id uint64, ts, next uint32, userID byte, name string) []byte {
	b := append(tableID(id), 0, 0)
	b = append(b, 2, 0x03)
	b = append(b, 0x00, userID, 0, 0, 0, byte(len(name)))
	b = append(b, name...)
	return eventPacket(binlog.WriteRowsEventV1, ts, next, b)
}

func eofPacket() []byte {
	return []byte{mysql.EOF_HEADER, 0, 0, 0, 0}
}

func drain(s *Session) []models.Message {
	var msgs []models.Message
	for m := range s.Events() {
		msgs = append(msgs, m)
	}
	return msgs
}
