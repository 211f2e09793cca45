package assembler

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"mariadb-cdc/internal/binlog"
	"mariadb-cdc/internal/catalog"
	"mariadb-cdc/internal/models"
)

// Assembler turns decoded row events into change events, naming columns and
// identifying rows from the catalog snapshot.
type Assembler struct {
	snapshot catalog.Snapshot
	logger   *logrus.Logger
}

// New creates an assembler over a loaded snapshot
func New(snapshot catalog.Snapshot, logger *logrus.Logger) *Assembler {
	return &Assembler{snapshot: snapshot, logger: logger}
}

// Operation maps a rows event kind to its change operation
func Operation(kind binlog.Kind) (models.Operation, bool) {
	switch kind {
	case binlog.KindWriteRows:
		return models.Insert, true
	case binlog.KindUpdateRows:
		return models.Update, true
	case binlog.KindDeleteRows:
		return models.Delete, true
	}
	return "", false
}

// Assemble builds the change event for a rows event. A rows event without a
// table map yields a single row carrying the error.
func (a *Assembler) Assemble(h binlog.Header, ev *binlog.RowsEvent) (*models.ChangeEvent, error) {
	op, ok := Operation(h.Type.Kind())
	if !ok {
		return nil, fmt.Errorf("event %s is not a rows event", h.Type)
	}
	change := &models.ChangeEvent{
		LogPos:    h.NextLogPos,
		Timestamp: h.Timestamp,
		Operation: op,
	}
	if ev.Table == nil {
		err := &binlog.UnknownTableError{TableID: ev.TableID}
		a.logger.WithField("table_id", ev.TableID).Warnf("Dropping %s rows: %v", op, err)
		change.Error = err.Error()
		change.Rows = []models.RowChange{{Error: err.Error()}}
		return change, nil
	}

	change.Database = ev.Table.Database
	change.Table = ev.Table.Table
	columns, known := a.snapshot.Lookup(ev.Table.Database, ev.Table.Table)

	change.Rows = make([]models.RowChange, 0, len(ev.Rows))
	for i, row := range ev.Rows {
		var rc models.RowChange
		var err error
		if !known {
			err = fmt.Errorf("table %s is not in the catalog", ev.Table.Name())
		} else {
			rc.Keys, rc.Columns, err = a.toColumns(ev.Table, columns, row.Columns)
			if err == nil && op == models.Update {
				rc.OldKeys, rc.OldColumns, err = a.toColumns(ev.Table, columns, row.OldColumns)
				if err == nil {
					rc.ChangedColumns = ChangedColumns(rc.OldColumns, rc.Columns)
				}
			}
		}
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"table": ev.Table.Name(),
				"row":   i,
			}).Warnf("Could not map %s row: %v", op, err)
			rc = models.RowChange{Error: err.Error()}
		}
		change.Rows = append(change.Rows, rc)
	}
	return change, nil
}

// toColumns zips a row image with the catalog columns of its table
func (a *Assembler) toColumns(table *binlog.TableMap, columns []catalog.ColumnDescriptor, values []binlog.Value) (*models.Keys, map[string]interface{}, error) {
	if len(columns) != len(values) {
		return nil, nil, fmt.Errorf("column count mismatch: catalog has %d, row has %d", len(columns), len(values))
	}

	keys := &models.Keys{PrimaryColumns: []string{}, PrimaryValues: []interface{}{}}
	row := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		v := a.convert(table, col, values[i])
		row[col.Name] = v
		if col.IsPrimaryKey {
			keys.PrimaryColumns = append(keys.PrimaryColumns, col.Name)
			keys.PrimaryValues = append(keys.PrimaryValues, v)
		}
	}
	if len(keys.PrimaryValues) > 0 {
		parts := make([]string, len(keys.PrimaryValues))
		for i, v := range keys.PrimaryValues {
			parts[i] = looseString(v)
		}
		composite := strings.Join(parts, "-")
		keys.CompositeKey = &composite
	}
	return keys, row, nil
}

func (a *Assembler) convert(table *binlog.TableMap, col catalog.ColumnDescriptor, v binlog.Value) interface{} {
	switch v.Kind {
	case binlog.EnumValue:
		if v.Uint == 0 || v.Uint > uint64(len(col.EnumValues)) {
			a.logger.WithFields(logrus.Fields{
				"table":  table.Name(),
				"column": col.Name,
			}).Warnf("Enum code %d out of range (%d labels)", v.Uint, len(col.EnumValues))
			return nil
		}
		return col.EnumValues[v.Uint-1]
	case binlog.SetValue:
		if col.SetValues == nil {
			return v.Uint
		}
		labels := make([]string, 0)
		for i, label := range col.SetValues {
			if v.Uint&(1<<uint(i)) != 0 {
				labels = append(labels, label)
			}
		}
		return strings.Join(labels, ",")
	case binlog.BlobValue:
		if col.IsText() {
			return string(v.Bytes)
		}
	}
	return v.Interface()
}

// ChangedColumns returns the columns of newRow whose value differs from oldRow.
// Values are compared by their string form, so 1 and "1" are equal.
func ChangedColumns(oldRow, newRow map[string]interface{}) map[string]models.ColumnChange {
	changed := make(map[string]models.ColumnChange)
	if oldRow == nil || newRow == nil {
		return changed
	}
	for name, next := range newRow {
		prev := oldRow[name]
		if !looseEqual(prev, next) {
			changed[name] = models.ColumnChange{Old: prev, New: next}
		}
	}
	return changed
}

func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok && bok {
		return bytes.Equal(ab, bb)
	}
	return looseString(a) == looseString(b)
}

func looseString(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
