package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Component identifiers for color-coded logging
type Component string

const (
	ComponentBroker  Component = "BROKER"
	ComponentProxy   Component = "PROXY"
	ComponentSigner  Component = "SIGNER"
	ComponentIssuer  Component = "ISSUER"
	ComponentHTTP    Component = "HTTP"
	ComponentProbe   Component = "PROBE"
	ComponentStorage Component = "STORAGE"
)

// ANSI color codes
const (
	colorReset   = "\033[0m"
	colorGreen   = "\033[32m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorYellow  = "\033[33m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
	colorOrange  = "\033[38;5;208m"
)

// componentColors maps components to their display colors
var componentColors = map[Component]string{
	ComponentBroker:  colorMagenta,
	ComponentProxy:   colorBlue,
	ComponentSigner:  colorGreen,
	ComponentIssuer:  colorOrange,
	ComponentHTTP:    colorWhite,
	ComponentProbe:   colorCyan,
	ComponentStorage: colorYellow,
}

// level is shared by every logger so one flag controls the whole process.
var level = new(slog.LevelVar)

// SetLevel sets the process-wide minimum level. Unknown names fall back to
// info.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Direction indicates the flow of a request
type Direction string

const (
	DirectionOutgoing Direction = "->"
	DirectionIncoming Direction = "<-"
	DirectionNone     Direction = ""
)

// ColorHandler is a custom slog handler that adds color-coded component output
type ColorHandler struct {
	slog.Handler
	out       io.Writer
	mu        *sync.Mutex
	component Component
	useColors bool
	attrs     []slog.Attr
	group     string
}

// NewColorHandler creates a new color-coded handler
func NewColorHandler(out io.Writer, component Component, useColors bool) *ColorHandler {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	return &ColorHandler{
		Handler:   slog.NewTextHandler(out, opts),
		out:       out,
		mu:        &sync.Mutex{},
		component: component,
		useColors: useColors,
	}
}

// Handle processes a log record with color-coded output
func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	color := componentColors[h.component]
	reset := colorReset
	if !h.useColors {
		color = ""
		reset = ""
	}

	levelEmoji := getLevelEmoji(r.Level)

	// Format: emoji [COMPONENT] message attrs...
	fmt.Fprintf(h.out, "%s%s [%s]%s %s", color, levelEmoji, h.component, reset, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(h.out, " %s=%v", key, a.Value)
		return true
	})
	fmt.Fprintln(h.out)

	return nil
}

// WithAttrs returns a new handler with the given attributes
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.Handler = h.Handler.WithAttrs(attrs)
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup returns a new handler with the given group
func (h *ColorHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.Handler = h.Handler.WithGroup(name)
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return &next
}

func getLevelEmoji(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\U0001F534" // Red circle
	case level >= slog.LevelWarn:
		return "\U0001F7E1" // Yellow circle
	case level >= slog.LevelInfo:
		return "\U0001F535" // Blue circle
	default:
		return "\U0001F7E3" // Purple circle
	}
}

// Logger wraps slog.Logger with component-specific functionality
type Logger struct {
	*slog.Logger
	component Component
}

// New creates a new component-specific logger
func New(component Component) *Logger {
	useColors := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	handler := NewColorHandler(os.Stdout, component, useColors)
	return &Logger{
		Logger:    slog.New(handler),
		component: component,
	}
}

// NewWithWriter creates a logger with a custom writer
func NewWithWriter(component Component, w io.Writer, useColors bool) *Logger {
	handler := NewColorHandler(w, component, useColors)
	return &Logger{
		Logger:    slog.New(handler),
		component: component,
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard(component Component) *Logger {
	return NewWithWriter(component, io.Discard, false)
}

// With returns a logger carrying extra attributes on every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		component: l.component,
	}
}

// Flow logs a directional message (incoming or outgoing)
func (l *Logger) Flow(dir Direction, msg string, args ...any) {
	prefix := ""
	if dir != DirectionNone {
		prefix = string(dir) + " "
	}
	l.Info(prefix+msg, args...)
}

// Success logs a success message with green color
func (l *Logger) Success(msg string, args ...any) {
	l.Info("✅ "+msg, args...)
}

// Failure logs a failed operation
func (l *Logger) Failure(msg string, args ...any) {
	l.Error("❌ "+msg, args...)
}

// Section logs a section header
func (l *Logger) Section(title string) {
	rule := strings.Repeat("═", 50)
	l.Info("")
	l.Info(rule)
	l.Info(" " + title)
	l.Info(rule)
	l.Info("")
}

// Upstream logs a completed call to the upstream API. Only the method,
// path and status are recorded; headers never are.
func (l *Logger) Upstream(method, path string, status int, elapsed time.Duration, args ...any) {
	args = append([]any{"status", status, "duration", elapsed.Round(time.Millisecond)}, args...)
	l.Info("\U0001F310 "+method+" "+path, args...)
}
