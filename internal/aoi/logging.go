package aoi

import (
	"io"

	"github.com/idlab-discover/aoievidence-cli/internal/logging"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "AOI:", PrefixColor: ui.FgCyan}

// SetLogger sets an optional destination for AOI logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(aoiID string, format string, args ...any) {
	logger.Logf(aoiID, format, args...)
}
