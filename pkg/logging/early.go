package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EarlyLog writes JSON lines shaped like the zap production encoder for the
// window before the structured logger exists (flag parsing, config loading).
type EarlyLog struct {
	mu          sync.Mutex
	out         io.Writer
	serviceName string
	now         func() time.Time
	exit        func(int)
}

type earlyEntry struct {
	Timestamp   string `json:"ts"`
	Level       string `json:"level"`
	Message     string `json:"msg"`
	ServiceName string `json:"service_name,omitempty"`
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{
		out:  os.Stderr,
		now:  time.Now,
		exit: os.Exit,
	}
}

func (l *EarlyLog) WithServiceName(name string) *EarlyLog {
	l.serviceName = name
	return l
}

func (l *EarlyLog) WithOutput(w io.Writer) *EarlyLog {
	l.out = w
	return l
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write("info", msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("warn", msg, args...)
}

// Error reports a startup failure; the caller decides whether to abort.
func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("error", msg, args...)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write("fatal", msg, args...)
	l.exit(1)
}

func (l *EarlyLog) write(level, msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	line, err := json.Marshal(earlyEntry{
		Timestamp:   l.now().UTC().Format(time.RFC3339Nano),
		Level:       level,
		Message:     msg,
		ServiceName: l.serviceName,
	})
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(line, '\n'))
}
