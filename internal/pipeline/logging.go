package pipeline

import (
	"io"

	"github.com/idlab-discover/aoievidence-cli/internal/logging"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Pipeline:", PrefixColor: ui.FgYellow}

// SetLogger sets an optional destination for pipeline logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(aoiID, format string, args ...any) {
	logger.Logf(aoiID, format, args...)
}
