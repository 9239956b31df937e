package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProductionLogger writes structured logs in JSON when running in
// Kubernetes (detected via KUBERNETES_SERVICE_HOST) and human-readable text
// locally. It is safe for concurrent use.
type ProductionLogger struct {
	service string
	level   int
	format  string
	output  io.Writer
	mu      sync.Mutex
}

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var levelNames = map[string]int{
	"DEBUG": levelDebug,
	"INFO":  levelInfo,
	"WARN":  levelWarn,
	"ERROR": levelError,
}

// NewProductionLogger creates a logger for the named service.
// Level comes from PROMPTDIAL_LOG_LEVEL (default INFO); format is
// auto-detected (JSON in Kubernetes, text otherwise).
func NewProductionLogger(service string) *ProductionLogger {
	level := levelInfo
	if v, ok := levelNames[strings.ToUpper(os.Getenv("PROMPTDIAL_LOG_LEVEL"))]; ok {
		level = v
	}
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if v := os.Getenv("PROMPTDIAL_LOG_FORMAT"); v == "json" || v == "text" {
		format = v
	}
	return &ProductionLogger{
		service: service,
		level:   level,
		format:  format,
		output:  os.Stderr,
	}
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(levelDebug, "DEBUG", msg, fields)
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(levelInfo, "INFO", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(levelWarn, "WARN", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(levelError, "ERROR", msg, fields)
}

func (l *ProductionLogger) log(level int, name, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		entry := map[string]interface{}{
			"ts":      now,
			"level":   name,
			"service": l.service,
			"msg":     msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.output, "%s %s %s %s (marshal error: %v)\n", now, name, l.service, msg, err)
			return
		}
		fmt.Fprintln(l.output, string(data))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %-5s [%s] %s", now, name, l.service, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	fmt.Fprintln(l.output, sb.String())
}

// SetOutput redirects log output. Intended for tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}
