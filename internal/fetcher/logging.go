package fetcher

import (
	"io"

	"github.com/idlab-discover/aoievidence-cli/internal/logging"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Fetch:", PrefixColor: ui.FgMagenta, KeyName: "tile"}

// SetLogger sets an optional destination for fetch logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(tileKey string, format string, args ...any) {
	logger.Logf(tileKey, format, args...)
}
