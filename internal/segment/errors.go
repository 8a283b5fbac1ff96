package segment

import (
	"fmt"

	"github.com/local/markersplit/internal/marker"
)

// NotFoundError reports that a boundary marker was never located under the
// search constraints. Role End also covers end matches that only occur
// before the start page.
type NotFoundError struct {
	Role  marker.Role
	Start int
}

func (e *NotFoundError) Error() string {
	if e.Role == marker.End {
		return fmt.Sprintf("end marker not found at or after page %d", e.Start)
	}
	return "start marker not found"
}

// Range is an inclusive pair of 0-based page indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether r describes a non-empty forward range.
func (r Range) Valid() bool {
	return r.Start >= 0 && r.End >= r.Start
}

// Len is the number of pages in r.
func (r Range) Len() int {
	if !r.Valid() {
		return 0
	}
	return r.End - r.Start + 1
}
