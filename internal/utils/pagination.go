// Package utils provides small helpers shared by the HTTP and service
// layers. Nothing here knows about emails or pets.
package utils

import "strconv"

// Page size bounds for list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault converts s to an int, returning def when s is empty or not a
// valid integer. Whitespace is not trimmed.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads page and page_size query values. Missing or invalid values
// fall back to page 1 and DefaultPageSize; page_size is capped at
// MaxPageSize.
func ParsePage(pageStr, sizeStr string) (page, pageSize int) {
	page = AtoiDefault(pageStr, 1)
	if page < 1 {
		page = 1
	}
	pageSize = AtoiDefault(sizeStr, DefaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Window normalizes a 1-based page request and returns the row offset.
// Non-positive sizes use DefaultPageSize.
func Window(page, pageSize int) (p, size, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}
