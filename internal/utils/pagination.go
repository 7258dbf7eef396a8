// Package utils holds the query-parsing and paging arithmetic shared by the
// HTTP handlers and the services behind them.
package utils

import "strconv"

// AtoiDefault parses s, falling back to def when s is empty or not an int.
// Whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampedInt parses s like AtoiDefault and bounds the result to [lo, hi].
func ClampedInt(s string, def, lo, hi int) int {
	n := AtoiDefault(s, def)
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// PageOffset returns the row offset of a 1-based page.
func PageOffset(page, pageSize int) int {
	if page < 1 || pageSize < 1 {
		return 0
	}
	return (page - 1) * pageSize
}

// TotalPages is total divided by pageSize, rounded up. An empty collection
// has zero pages.
func TotalPages(total int64, pageSize int) int {
	if pageSize < 1 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
