package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Table names a collection in the remote store.
type Table string

const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
	TableVendors       Table = "vendors"
	TableProducts      Table = "products"
)

// EventKind is the change type delivered by the realtime feed.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
	EventAll    EventKind = "*"
)

// Accepts reports whether a subscription for k receives an event of kind other.
func (k EventKind) Accepts(other EventKind) bool {
	return k == EventAll || k == "" || k == other
}

// Row is a loosely typed row image as carried by change notifications.
type Row map[string]any

// String returns the column as a string, or "" when missing or null.
func (r Row) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ChangeEvent is a row change pushed by the store.
type ChangeEvent struct {
	Table     Table     `json:"table"`
	Kind      EventKind `json:"type"`
	New       Row       `json:"new,omitempty"`
	Old       Row       `json:"old,omitempty"`
	Timestamp time.Time `json:"commit_timestamp"`
}

// NewChangeEvent builds an event from typed rows. Nil rows are omitted.
func NewChangeEvent(table Table, kind EventKind, newRow, oldRow any) (ChangeEvent, error) {
	ev := ChangeEvent{Table: table, Kind: kind, Timestamp: time.Now().UTC()}
	var err error
	if newRow != nil {
		if ev.New, err = ToRow(newRow); err != nil {
			return ChangeEvent{}, err
		}
	}
	if oldRow != nil {
		if ev.Old, err = ToRow(oldRow); err != nil {
			return ChangeEvent{}, err
		}
	}
	return ev, nil
}

// ToRow converts a struct into its JSON row image.
func ToRow(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}
	return row, nil
}

// DecodeRow decodes a row image into out. Missing columns keep their zero values.
func DecodeRow(row Row, out any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Filter scopes a subscription to rows whose Column equals Value.
// The zero Filter matches every row.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// ParseFilter parses the "column=eq.value" form. An empty string yields the zero Filter.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return Filter{}, nil
	}
	column, rest, ok := strings.Cut(s, "=")
	if !ok || column == "" {
		return Filter{}, fmt.Errorf("invalid filter %q", s)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return Filter{}, fmt.Errorf("unsupported filter operator in %q", s)
	}
	return Filter{Column: column, Value: value}, nil
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool { return f.Column == "" }

// String renders the filter in "column=eq.value" form.
func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Matches reports whether either row image of ev satisfies the filter.
func (f Filter) Matches(ev ChangeEvent) bool {
	if f.IsZero() {
		return true
	}
	return (ev.New != nil && ev.New.String(f.Column) == f.Value) ||
		(ev.Old != nil && ev.Old.String(f.Column) == f.Value)
}
