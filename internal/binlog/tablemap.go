package binlog

import (
	"fmt"
)

// NoColumnLength marks a column whose type carries no table-map metadata
const NoColumnLength = -1

// TableMap describes the column layout of one table id as announced by a
// TABLE_MAP event.
type TableMap struct {
	TableID       uint64
	Flags         uint16
	Database      string
	Table         string
	ColumnTypes   []byte
	ColumnLengths []int
	Nullable      []bool
}

func (*TableMap) body() {}

// Name returns "database.table".
func (m *TableMap) Name() string {
	return m.Database + "." + m.Table
}

// ColumnCount returns the number of columns in the table.
func (m *TableMap) ColumnCount() int {
	return len(m.ColumnTypes)
}

// Registry caches table maps by table id for one replication session.
// It is not safe for concurrent use.
type Registry struct {
	tables map[uint64]*TableMap
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[uint64]*TableMap)}
}

// Put stores m under id, replacing any earlier entry.
func (r *Registry) Put(id uint64, m *TableMap) {
	r.tables[id] = m
}

// Get returns the table map for id.
func (r *Registry) Get(id uint64) (*TableMap, bool) {
	m, ok := r.tables[id]
	return m, ok
}

// Reset drops every entry. Table ids are not stable across reconnects.
func (r *Registry) Reset() {
	r.tables = make(map[uint64]*TableMap)
}

// Len returns the number of cached table maps.
func (r *Registry) Len() int {
	return len(r.tables)
}

// UnknownTableError is returned when a rows event references a table id that
// has not been announced by a TABLE_MAP event.
type UnknownTableError struct {
	TableID uint64
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table id %d: no table map received", e.TableID)
}

// columnLengths walks the metadata block left to right and assigns each column its
// metadata value.
func columnLengths(types []byte, meta []byte) ([]int, error) {
	lengths := make([]int, len(types))
	off := 0
	for i, t := range types {
		w := metadataWidth(t)
		if off+w > len(meta) {
			return nil, fmt.Errorf("metadata block of %d bytes exhausted at column %d (%s)", len(meta), i, TypeName(t))
		}
		switch w {
		case 1:
			lengths[i] = int(meta[off])
		case 2:
			lengths[i] = int(meta[off]) | int(meta[off+1])<<8
		default:
			lengths[i] = NoColumnLength
		}
		off += w
	}
	return lengths, nil
}

func decodeTableMap(c *cursor, tableIDSize int) (*TableMap, error) {
	m := &TableMap{
		TableID: c.intN(tableIDSize),
		Flags:   c.int2(),
	}
	m.Database = c.countedStringNull()
	m.Table = c.countedStringNull()

	n := int(c.lenEnc())
	m.ColumnTypes = append([]byte(nil), c.bytes(n)...)
	meta := c.bytes(int(c.lenEnc()))
	nulls := c.bitmap(n)
	if c.err != nil {
		return nil, fmt.Errorf("table map: %w", c.err)
	}

	lengths, err := columnLengths(m.ColumnTypes, meta)
	if err != nil {
		return nil, fmt.Errorf("table map %s: %w", m.Name(), err)
	}
	m.ColumnLengths = lengths

	m.Nullable = make([]bool, n)
	for i := range m.Nullable {
		m.Nullable[i] = nulls.isSet(i)
	}
	// the remainder holds optional metadata (column names, signedness) on newer servers
	return m, nil
}
