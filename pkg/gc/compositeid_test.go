package gc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeIDRoundTrip(t *testing.T) {
	id := NewCompositeID("/content/foo/bar", 1234567890)
	assert.Equal(t, "/content/foo/bar/1234567890", id.String())

	parsed, err := ParseCompositeID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestNewCompositeIDPanicsOnEmptyDocID(t *testing.T) {
	assert.Panics(t, func() {
		NewCompositeID("", 1)
	})
}

func TestParseCompositeIDMalformed(t *testing.T) {
	cases := []string{"", "no-slash-here", "/trailing-slash/", "/"}
	for _, c := range cases {
		_, err := ParseCompositeID(c)
		assert.ErrorIs(t, err, ErrMalformedCandidateID, "input %q", c)
	}
}

func TestParseCompositeIDInvalidSuffix(t *testing.T) {
	_, err := ParseCompositeID("/content/foo/not-a-number")
	assert.True(t, errors.Is(err, ErrInvalidModifiedSuffix))
}
