package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// Cursor is a keyset position: the last item seen, ordered by timestamp then id.
type Cursor struct {
	LastID    string
	Timestamp time.Time
}

// PageResult represents a paginated result set
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var (
	ErrInvalidCursor = errors.New("invalid cursor format")
)

// EncodeCursor creates an opaque cursor from the last item ID and timestamp
func EncodeCursor(lastID string, timestamp time.Time) string {
	if lastID == "" {
		return ""
	}
	raw := lastID + "|" + timestamp.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor decodes a cursor. An empty cursor decodes to nil.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	lastID, ts, ok := strings.Cut(string(decoded), "|")
	if !ok || lastID == "" {
		return nil, ErrInvalidCursor
	}

	timestamp, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{
		LastID:    lastID,
		Timestamp: timestamp,
	}, nil
}

// NewPage builds a page from up to limit+1 fetched items. The extra item only
// signals that another page exists and is dropped.
func NewPage[T any](items []T, limit int, getID func(T) string, getTimestamp func(T) time.Time) PageResult[T] {
	if items == nil {
		items = []T{}
	}
	if limit <= 0 || len(items) <= limit {
		return PageResult[T]{Items: items}
	}

	items = items[:limit]
	last := items[len(items)-1]
	return PageResult[T]{
		Items:   items,
		Cursor:  EncodeCursor(getID(last), getTimestamp(last)),
		HasMore: true,
	}
}
