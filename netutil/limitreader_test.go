package netutil

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitedReaderUnderLimit(t *testing.T) {
	t.Parallel()

	r := NewLimitedReader(strings.NewReader("hello"), 100)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLimitedReaderExactLimit(t *testing.T) {
	t.Parallel()

	r := NewLimitedReader(strings.NewReader("hello"), 5)
	data, err := io.ReadAll(r)
	require.NoError(t, err, "a stream ending exactly at the limit is fine")
	assert.Equal(t, "hello", string(data))
}

func TestLimitedReaderOverLimit(t *testing.T) {
	t.Parallel()

	r := NewLimitedReader(strings.NewReader("hello world"), 5)
	_, err := io.ReadAll(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSizeLimit)

	var serr *SizeLimitError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, int64(5), serr.Limit)
	assert.Contains(t, serr.Error(), "5 allowed bytes")
}

func TestLimitedReaderSmallChunks(t *testing.T) {
	t.Parallel()

	r := NewLimitedReader(strings.NewReader("abcdef"), 4)
	buf := make([]byte, 2)

	_, err := r.Read(buf)
	require.NoError(t, err)
	_, err = r.Read(buf)
	require.Error(t, err, "the overrun surfaces as soon as the limit is spent")
	assert.True(t, errors.Is(err, ErrSizeLimit))
}
