package ui

import (
	"bytes"
	"sync"
)

// LineWriter splits written bytes into lines and logs each complete line
// through a Logger with a fixed prefix. It implements io.Writer.
type LineWriter struct {
	prefix string
	log    *Logger
	mu     sync.Mutex
	buf    []byte
}

// NewLineWriter creates a LineWriter that logs to l, prefixing each line.
func NewLineWriter(l *Logger, prefix string) *LineWriter {
	return &LineWriter{prefix: prefix, log: l}
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx == -1 {
			break
		}
		line := string(bytes.TrimRight(lw.buf[:idx], "\r"))
		lw.buf = lw.buf[idx+1:]
		lw.log.Log(lw.prefix + line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (lw *LineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if len(lw.buf) == 0 {
		return
	}
	lw.log.Log(lw.prefix + string(lw.buf))
	lw.buf = nil
}
