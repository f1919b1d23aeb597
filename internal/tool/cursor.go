// ABOUTME: Offset cursors and page slicing for tool listings
// ABOUTME: A cursor is base64 of the decimal offset into the filtered list

package tool

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
)

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 50

// ErrInvalidCursor indicates a cursor that does not decode to an offset.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor encodes an offset.
func EncodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// DecodeCursor decodes a cursor. The empty cursor is offset 0.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidCursor)
	}
	return offset, nil
}

// Page returns the window of items starting at cursor. next is nil when the
// window reaches the end of items.
func Page[T any](items []T, cursor string, pageSize int) (page []T, next *string, err error) {
	offset, err := DecodeCursor(cursor)
	if err != nil {
		return nil, nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if offset >= len(items) {
		return []T{}, nil, nil
	}

	end := min(offset+pageSize, len(items))
	page = items[offset:end]
	if end < len(items) {
		c := EncodeCursor(end)
		next = &c
	}
	return page, next, nil
}
