package zonal

import (
	"io"

	"github.com/idlab-discover/aoievidence-cli/internal/logging"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Zonal:", PrefixColor: ui.FgGreen}

// SetLogger sets an optional destination for zonal statistics logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(aoiID string, format string, args ...any) {
	logger.Logf(aoiID, format, args...)
}
