package supervisor

import (
	"errors"
	"fmt"
	"strings"

	"idmark/internal/services"
)

// ErrWatchdogTermination marks a child killed because its supervisor was no
// longer alive.
var ErrWatchdogTermination = errors.New("watchdog terminated child process")

// ExitError reports a child that exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	// Tail holds the last stderr lines for diagnostics.
	Tail []string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	if len(e.Tail) > 0 {
		msg += ": " + strings.Join(e.Tail, " | ")
	}
	return msg
}

// Unwrap lets errors.Is(err, services.ErrExternalTool) classify exit failures.
func (e *ExitError) Unwrap() error { return services.ErrExternalTool }
