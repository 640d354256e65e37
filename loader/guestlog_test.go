package loader

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guestLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(h), &buf
}

func TestGuestWriterPlainLines(t *testing.T) {
	t.Parallel()

	logger, buf := guestLogger(t)
	w := NewGuestWriter(logger, "MyApp", slog.LevelInfo)

	_, err := w.Write([]byte("hello world\nsecond\n"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `msg="hello world"`)
	assert.Contains(t, out, "msg=second")
	assert.Contains(t, out, "module=MyApp")
	assert.Contains(t, out, "level=INFO")
}

func TestGuestWriterBuffersPartialLines(t *testing.T) {
	t.Parallel()

	logger, buf := guestLogger(t)
	w := NewGuestWriter(logger, "MyApp", slog.LevelInfo)

	_, err := w.Write([]byte("par"))
	require.NoError(t, err)
	assert.Empty(t, buf.String(), "a line without its newline waits")

	_, err = w.Write([]byte("tial\n"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "msg=partial")
}

func TestGuestWriterFlush(t *testing.T) {
	t.Parallel()

	logger, buf := guestLogger(t)
	w := NewGuestWriter(logger, "MyApp", slog.LevelWarn)

	_, err := w.Write([]byte("tail without newline"))
	require.NoError(t, err)
	w.Flush()

	assert.Contains(t, buf.String(), `msg="tail without newline"`)
	assert.Contains(t, buf.String(), "level=WARN")

	buf.Reset()
	w.Flush()
	assert.Empty(t, buf.String(), "a second flush has nothing left")
}

func TestGuestWriterStructuredLines(t *testing.T) {
	t.Parallel()

	logger, buf := guestLogger(t)
	w := NewGuestWriter(logger, "MyApp", slog.LevelInfo)

	_, err := w.Write([]byte(`{"level":"debug","msg":"cache miss","key":"Lib","hits":3}` + "\n"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, `msg="cache miss"`)
	assert.Contains(t, out, "hits=3")
	assert.Contains(t, out, "key=Lib")
}

func TestGuestWriterMalformedStructuredLine(t *testing.T) {
	t.Parallel()

	logger, buf := guestLogger(t)
	w := NewGuestWriter(logger, "MyApp", slog.LevelWarn)

	// Broken JSON and objects without msg fall back to verbatim text.
	_, err := w.Write([]byte("{not json\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"level":"info"}` + "\n"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `msg="{not json"`)
	assert.Contains(t, out, "level=WARN")
}

func TestGuestWriterSkipsBlankLines(t *testing.T) {
	t.Parallel()

	logger, buf := guestLogger(t)
	w := NewGuestWriter(logger, "MyApp", slog.LevelInfo)

	_, err := w.Write([]byte("\n   \n"))
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}
