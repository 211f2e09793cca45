package catalog

import (
	"fmt"
	"strings"
)

// ColumnDescriptor describes one column as reported by DESC
type ColumnDescriptor struct {
	Name         string
	SQLType      string
	BaseType     string
	Nullable     bool
	Default      *string
	Key          string
	Extra        string
	IsPrimaryKey bool
	EnumValues   []string
	SetValues    []string
}

// describeRow is one row of `DESC table`
type describeRow struct {
	Field   string  `db:"Field"`
	Type    string  `db:"Type"`
	Null    string  `db:"Null"`
	Key     string  `db:"Key"`
	Default *string `db:"Default"`
	Extra   string  `db:"Extra"`
}

// ParseColumn builds a descriptor from a DESC row. Enum and set labels are
// parsed out of the type literal.
func ParseColumn(row describeRow) (ColumnDescriptor, error) {
	col := ColumnDescriptor{
		Name:         row.Field,
		SQLType:      row.Type,
		BaseType:     BaseType(row.Type),
		Nullable:     row.Null == "YES",
		Default:      row.Default,
		Key:          row.Key,
		Extra:        row.Extra,
		IsPrimaryKey: row.Key == "PRI",
	}
	switch col.BaseType {
	case "enum", "set":
		labels, err := parseLabels(row.Type)
		if err != nil {
			return col, fmt.Errorf("column %s: %w", row.Field, err)
		}
		if col.BaseType == "enum" {
			col.EnumValues = labels
		} else {
			col.SetValues = labels
		}
	}
	return col, nil
}

// BaseType returns the lower-cased type name without length or modifiers,
// e.g. "int" for "int(10) unsigned".
func BaseType(sqlType string) string {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	if i := strings.IndexAny(t, "( "); i >= 0 {
		t = t[:i]
	}
	return t
}

// IsText reports whether values of the column are character data stored in
// the binlog as blobs.
func (c ColumnDescriptor) IsText() bool {
	switch c.BaseType {
	case "tinytext", "text", "mediumtext", "longtext":
		return true
	}
	return false
}

// parseLabels reads the quoted labels of enum('a','b') or set('x','y').
// Quotes inside a label are doubled.
func parseLabels(sqlType string) ([]string, error) {
	open := strings.IndexByte(sqlType, '(')
	end := strings.LastIndexByte(sqlType, ')')
	if open < 0 || end < open {
		return nil, fmt.Errorf("malformed label list %q", sqlType)
	}
	body := sqlType[open+1 : end]

	var labels []string
	for i := 0; i < len(body); {
		if body[i] != '\'' {
			return nil, fmt.Errorf("malformed label list %q", sqlType)
		}
		var b strings.Builder
		i++
		for {
			if i >= len(body) {
				return nil, fmt.Errorf("unterminated label in %q", sqlType)
			}
			if body[i] == '\'' {
				if i+1 < len(body) && body[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				i++
				break
			}
			b.WriteByte(body[i])
			i++
		}
		labels = append(labels, b.String())
		if i < len(body) {
			if body[i] != ',' {
				return nil, fmt.Errorf("malformed label list %q", sqlType)
			}
			i++
		}
	}
	return labels, nil
}
