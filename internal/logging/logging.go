package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

// Logger is a tiny opt-in logger used across internal packages.
// When Writer is nil, logging is disabled.
//
// The output format is:
//
//	<ColoredPrefix> <KeyName>=<key> <formattedMessage>\n
//
// where KeyName defaults to "aoi" and <key> is trimmed and defaults to "(unknown)".
type Logger struct {
	Writer io.Writer

	PrefixText  string
	PrefixColor string

	// KeyName labels the key field, e.g. "aoi", "tile", "run".
	KeyName string

	// OmitKey controls whether the key field is written.
	OmitKey bool

	mu sync.Mutex
}

func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Writer = w
}

func (l *Logger) Enabled() bool { return l != nil && l.Writer != nil }

func (l *Logger) Logf(key string, format string, args ...any) {
	if l == nil {
		return
	}
	// Tile resolutions log from worker goroutines.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Writer == nil {
		return
	}
	prefix := l.PrefixText
	if prefix == "" {
		prefix = "Log:"
	}
	if l.PrefixColor != "" {
		prefix = ui.Color(prefix, l.PrefixColor)
	}
	msg := fmt.Sprintf(format, args...)
	if l.OmitKey {
		fmt.Fprintf(l.Writer, "%s %s\n", prefix, msg)
		return
	}

	name := l.KeyName
	if name == "" {
		name = "aoi"
	}
	k := strings.TrimSpace(key)
	if k == "" {
		k = "(unknown)"
	}
	fmt.Fprintf(l.Writer, "%s %s=%s %s\n", prefix, name, k, msg)
}
