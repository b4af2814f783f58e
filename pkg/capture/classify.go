package capture

import (
	"strings"

	"github.com/modoterra/procwatch/pkg/core"
)

// Classify assigns a level to a line. Anything read from stderr is an
// error; otherwise the first keyword found in the order error, warn, debug
// decides, and info is the fallback.
func Classify(source core.Source, message string) core.Level {
	if source == core.SourceStderr {
		return core.LevelError
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error"):
		return core.LevelError
	case strings.Contains(lower, "warn"):
		return core.LevelWarn
	case strings.Contains(lower, "debug"):
		return core.LevelDebug
	default:
		return core.LevelInfo
	}
}
