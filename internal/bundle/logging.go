package bundle

import (
	"io"

	"github.com/idlab-discover/aoievidence-cli/internal/logging"
	"github.com/idlab-discover/aoievidence-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Bundle:", PrefixColor: ui.FgCyan, KeyName: "bundle"}

// SetLogger sets an optional destination for bundle logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(bundleID string, format string, args ...any) {
	logger.Logf(bundleID, format, args...)
}
