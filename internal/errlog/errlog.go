// Package errlog keeps the append-only error log next to the console output.
// Each line is "[<ISO-8601 UTC timestamp>] <message>". The file is never
// rotated or truncated by this process.
package errlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type Logger struct {
	mu  sync.Mutex
	out io.Writer
	f   *os.File
	now func() time.Time
}

// Open appends to path, creating it if needed.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	return &Logger{out: f, f: f, now: time.Now}, nil
}

// New writes to w. A nil w only echoes to the console.
func New(w io.Writer) *Logger {
	return &Logger{out: w, now: time.Now}
}

func (l *Logger) Errorf(format string, args ...any) {
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	log.Print(msg)
	if l == nil || l.out == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s\n", l.now().UTC().Format(timeLayout), msg)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.out, line); err != nil {
		log.Printf("error log write: %v", err)
	}
}

func (l *Logger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
