package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: color,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	segs := []string{
		"ts=" + applyDim(ts.Format("15:04:05.000"), h.color),
		"lvl=" + levelTag(r.Level, h.color),
		"msg=" + applyBold(r.Message, h.color),
	}

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			segs = append(segs, "src="+applyDim(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), h.color))
		}
	}

	for _, a := range h.attrs {
		segs = h.appendAttr(segs, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		segs = h.appendAttr(segs, a, "")
		return true
	})

	var out string
	if h.color {
		out = strings.Join(wrapSegments(segs, " ", h.terminalWidth(), "    "), "\n")
	} else {
		out = strings.Join(segs, " ")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, out+"\n")
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(segs []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return segs
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return segs
	}

	fullKey := key
	if parent != "" {
		fullKey = parent + "." + key
	}
	if len(h.groups) > 0 && parent == "" {
		fullKey = strings.Join(h.groups, ".") + "." + fullKey
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			segs = h.appendAttr(segs, ga, fullKey)
		}
		return segs
	}

	return append(segs, remapPrettyKey(fullKey)+"="+h.prettyValue(fullKey, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	trimmedKey := strings.TrimSpace(key)

	switch trimmedKey {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		path := strings.TrimSpace(v.String())
		if h.color {
			return ansiCyan + path + ansiReset
		}
		return path
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class", "class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	}

	plain := valueToString(v)
	return quoteIfNeeded(plain)
}

func remapPrettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		if color {
			return ansiRed + "[ERROR]" + ansiReset
		}
		return "[ERROR]"
	case level >= slog.LevelWarn:
		if color {
			return ansiYellow + "[WARN]" + ansiReset
		}
		return "[WARN]"
	case level < slog.LevelInfo:
		if color {
			return ansiMagenta + "[DEBUG]" + ansiReset
		}
		return "[DEBUG]"
	default:
		if color {
			return ansiBlue + "[INFO]" + ansiReset
		}
		return "[INFO]"
	}
}

func applyDim(s string, color bool) string {
	if !color {
		return s
	}
	return ansiDim + s + ansiReset
}

func applyBold(s string, color bool) string {
	if !color {
		return s
	}
	return ansiBright + s + ansiReset
}

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func paint(s, code string, color bool) string {
	if !color {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET", "HEAD":
		return paint(m, ansiGreen, color)
	case "POST", "PUT", "PATCH":
		return paint(m, ansiYellow, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	default:
		return paint(m, ansiCyan, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	return colorizeStatusClass(strconv.Itoa(code), color)
}

// colorizeStatusClass accepts a status code or a class such as "4xx".
func colorizeStatusClass(s string, color bool) string {
	if s == "" {
		return `""`
	}
	switch s[0] {
	case '2':
		return paint(s, ansiGreen, color)
	case '3':
		return paint(s, ansiCyan, color)
	case '4':
		return paint(s, ansiYellow, color)
	case '5':
		return paint(s, ansiRed, color)
	default:
		return s
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

func colorizeResult(r string, color bool) string {
	switch r {
	case "success", "ok":
		return paint(r, ansiGreen, color)
	case "redirect":
		return paint(r, ansiCyan, color)
	case "client_error", "rejected", "skip":
		return paint(r, ansiYellow, color)
	case "server_error", "fail", "error":
		return paint(r, ansiRed, color)
	default:
		return quoteIfNeeded(r)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > 1<<62 {
			return 0, false
		}
		return int64(u), true // #nosec G115 -- bounded above.
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// truncateVisual shortens s to at most width visible runes, ending in "…".
// Color codes are dropped from truncated segments.
func truncateVisual(s string, width int) string {
	plain := []rune(stripANSI(s))
	if len(plain) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	return string(plain[:width-1]) + "…"
}

// wrapSegments packs segments into lines no wider than width. Continuation
// lines start with cont; a segment wider than a line is truncated.
func wrapSegments(segs []string, sep string, width int, cont string) []string {
	if width <= 0 {
		return []string{strings.Join(segs, sep)}
	}

	var lines []string
	line, lineLen := "", 0
	sepLen := visualLen(sep)

	for _, s := range segs {
		if s == "" {
			continue
		}
		sl := visualLen(s)
		if line != "" && lineLen+sepLen+sl <= width {
			line += sep + s
			lineLen += sepLen + sl
			continue
		}

		lead := ""
		if line != "" || len(lines) > 0 {
			lead = cont
		}
		if line != "" {
			lines = append(lines, line)
		}

		avail := width - visualLen(lead)
		if sl > avail {
			s = truncateVisual(s, avail)
			sl = visualLen(s)
		}
		line, lineLen = lead+s, visualLen(lead)+sl
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// terminalWidth prefers LABDASH_LOG_WIDTH, then COLUMNS, then a default.
// Values narrower than minLogWidth are ignored.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"LABDASH_LOG_WIDTH", "COLUMNS"} {
		n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
		if err == nil && n >= minLogWidth {
			return n
		}
	}
	return defaultLogWidth
}
