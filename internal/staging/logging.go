package staging

import (
	"io"

	"github.com/idlab-discover/aoievidence-cli/internal/logging"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Staging:", PrefixColor: ui.FgGreen, KeyName: "run"}

// SetLogger sets an optional destination for staging logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(runID string, format string, args ...any) {
	logger.Logf(runID, format, args...)
}
