// Package colorlog provides a compact, optionally colored slog handler.
package colorlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorGray   = "\033[37m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBlue   = "\033[34m"
)

type Options struct {
	Output   io.Writer
	Level    slog.Leveler
	UseColor *bool // nil = detect from Output
}

type Handler struct {
	label  string
	out    io.Writer
	level  slog.Leveler
	color  bool
	mu     *sync.Mutex // shared by clones
	prefix string      // group path, "a.b."
	attrs  string      // preformatted handler attrs
}

// New returns a logger whose lines carry label.
func New(label string, opts ...Options) *slog.Logger {
	return slog.New(NewHandler(label, opts...))
}

func NewHandler(label string, opts ...Options) *Handler {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	return &Handler{
		label: label,
		out:   o.Output,
		level: o.Level,
		color: useColor(o.Output, o.UseColor),
		mu:    &sync.Mutex{},
	}
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func useColor(w io.Writer, override *bool) bool {
	if override != nil {
		return *override
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(h.paint(colorGray, r.Time.Format("2006/01/02 15:04:05")))
	sb.WriteString("  (")
	sb.WriteString(h.paint(colorBlue, h.label))
	sb.WriteString(")  ")
	sb.WriteString(h.paint(levelColor(r.Level), levelPrefix(r.Level)+r.Message))

	attrs := h.attrs
	r.Attrs(func(a slog.Attr) bool {
		attrs += h.formatAttr(h.prefix, a)
		return true
	})
	sb.WriteString(attrs)
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	for _, a := range attrs {
		clone.attrs += h.formatAttr(h.prefix, a)
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (h *Handler) formatAttr(prefix string, a slog.Attr) string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return ""
	}
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix += a.Key + "."
		}
		var s string
		for _, ga := range a.Value.Group() {
			s += h.formatAttr(groupPrefix, ga)
		}
		return s
	}
	return fmt.Sprintf(" %s%v", h.paint(colorGray, prefix+a.Key+"="), a.Value.Any())
}

func (h *Handler) paint(color, s string) string {
	if !h.color {
		return s
	}
	return color + s + colorReset
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorCyan
	default:
		return colorGray
	}
}

func levelPrefix(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR  "
	case level >= slog.LevelWarn:
		return "WARNING  "
	case level >= slog.LevelInfo:
		return ""
	default:
		return "DEBUG  "
	}
}
