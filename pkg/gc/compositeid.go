package gc

import (
	"fmt"
	"strconv"
	"strings"
)

// CompositeID carries the observed modification timestamp of a candidate
// through to its conditional delete: "<doc-id>/<modified>". Consumers split
// on the last '/': the decimal suffix never contains a '/', so any '/'
// inside the doc-id stays on the doc-id side. NewCompositeID rejects only
// an empty doc-id; it does not otherwise inspect the doc-id.
type CompositeID struct {
	DocID    string
	Modified int64
}

// NewCompositeID builds a CompositeID for a freshly observed candidate. It
// panics if docID is empty: per the path-depth encoding node-document ids
// are never empty, so an empty id here indicates a caller bug, not bad
// input data (use ParseCompositeID for externally-sourced strings, which
// degrades gracefully instead).
func NewCompositeID(docID string, modified int64) CompositeID {
	if docID == "" {
		panic("revisiongc: NewCompositeID called with empty doc id")
	}
	return CompositeID{DocID: docID, Modified: modified}
}

// String renders the composite id in its wire form.
func (c CompositeID) String() string {
	return fmt.Sprintf("%s/%d", c.DocID, c.Modified)
}

// ParseCompositeID splits s on its last '/' and parses the suffix as a
// signed decimal integer. It returns ErrMalformedCandidateID if there is no
// '/' or the doc-id half is empty, and ErrInvalidModifiedSuffix if the
// suffix doesn't parse as an integer.
func ParseCompositeID(s string) (CompositeID, error) {
	idx := strings.LastIndexByte(s, '/')
	if idx <= 0 || idx == len(s)-1 {
		return CompositeID{}, fmt.Errorf("%w: %q", ErrMalformedCandidateID, s)
	}
	docID, suffix := s[:idx], s[idx+1:]

	modified, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return CompositeID{DocID: docID, Modified: -1}, fmt.Errorf("%w: %q: %v", ErrInvalidModifiedSuffix, s, err)
	}
	return CompositeID{DocID: docID, Modified: modified}, nil
}
