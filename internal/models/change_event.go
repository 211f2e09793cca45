package models

// Operation is the kind of row change
type Operation string

const (
	Insert Operation = "insert"
	Update Operation = "update"
	Delete Operation = "delete"
)

// ChangeEvent represents the rows changed by one binlog row event
type ChangeEvent struct {
	LogPos    uint32      `json:"logPos"`
	Timestamp uint32      `json:"timestamp"`
	Operation Operation   `json:"operation"`
	Database  string      `json:"database"`
	Table     string      `json:"table"`
	Rows      []RowChange `json:"rows"`
	Error     string      `json:"error,omitempty"`

	// RawJSON holds the output of a script transform, which may add fields
	// beyond the ones above. Publishers send it verbatim when set.
	RawJSON []byte `json:"-"`
}

// RowChange is one changed row. OldColumns, OldKeys and ChangedColumns are only
// set for updates. Keys and Columns are nil when the row could not be matched
// against the table's catalog entry; Error then says why.
type RowChange struct {
	Keys           *Keys                   `json:"keys"`
	Columns        map[string]interface{}  `json:"columns"`
	OldKeys        *Keys                   `json:"oldKeys,omitempty"`
	OldColumns     map[string]interface{}  `json:"oldColumns,omitempty"`
	ChangedColumns map[string]ColumnChange `json:"changedColumns,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// Keys identifies a row by its primary key
type Keys struct {
	PrimaryColumns []string      `json:"primaryColumns"`
	PrimaryValues  []interface{} `json:"primaryValues"`
	// CompositeKey joins the primary values with "-"; nil without a primary key
	CompositeKey *string `json:"primaryValue"`
}

// ColumnChange is the before and after value of an updated column
type ColumnChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}
