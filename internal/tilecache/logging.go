package tilecache

import (
	"io"

	"github.com/idlab-discover/aoievidence-cli/internal/logging"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Tiles:", PrefixColor: ui.FgYellow, KeyName: "tile"}

// SetLogger sets an optional destination for tile cache logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(tileKey string, format string, args ...any) {
	logger.Logf(tileKey, format, args...)
}
