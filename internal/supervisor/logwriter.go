package supervisor

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// processLogWriter adapts the browser's stdout/stderr to zerolog, one log
// entry per line.
type processLogWriter struct {
	logger zerolog.Logger
	level  zerolog.Level

	mu      sync.Mutex
	pending []byte
}

func newProcessLogWriter(logger zerolog.Logger, stream string, level zerolog.Level) *processLogWriter {
	return &processLogWriter{
		logger: logger.With().Str("source", "browser").Str("stream", stream).Logger(),
		level:  level,
	}
}

func (w *processLogWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}

	// Partial lines are held until the newline arrives, within reason.
	if len(w.pending) > 64<<10 {
		w.emit(w.pending)
		w.pending = nil
	}

	return len(p), nil
}

func (w *processLogWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.WithLevel(w.level).Msg(string(line))
}
