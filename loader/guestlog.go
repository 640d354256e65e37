package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// GuestWriter forwards a module's output stream to the host logger,
// one record per line. A line that is a JSON object with a "msg" field
// is treated as structured: its "level" selects the slog level and the
// remaining fields become attributes. Anything else is logged verbatim
// at the stream's default level.
type GuestWriter struct {
	logger *slog.Logger
	module string
	level  slog.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewGuestWriter builds a writer for one module's stream. The default
// level tells plain stdout lines apart from stderr lines.
func NewGuestWriter(logger *slog.Logger, module string, level slog.Level) *GuestWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuestWriter{logger: logger, module: module, level: level}
}

// Write buffers partial lines and emits one log record per completed
// line. It never fails; guest output must not break the guest.
func (w *GuestWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// An incomplete line goes back until its newline arrives.
			w.buf.WriteString(line)
			break
		}
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits any buffered partial line. Call when the module closes.
func (w *GuestWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String())
	w.buf.Reset()
}

func (w *GuestWriter) emit(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	msg, level, attrs, ok := parseGuestRecord(line)
	if !ok {
		msg, level = line, w.level
	}
	attrs = append(attrs, slog.String("module", w.module))
	w.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// parseGuestRecord interprets a structured guest line.
func parseGuestRecord(line string) (string, slog.Level, []slog.Attr, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return "", 0, nil, false
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return "", 0, nil, false
	}
	msg, ok := record["msg"].(string)
	if !ok {
		return "", 0, nil, false
	}

	level := slog.LevelInfo
	if s, ok := record["level"].(string); ok {
		// An unknown level name falls back to info.
		_ = level.UnmarshalText([]byte(strings.ToUpper(s)))
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		if k != "msg" && k != "level" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, record[k]))
	}
	return msg, level, attrs, true
}
