package cli

import (
	"errors"
	"strings"

	"github.com/simp-lee/epubemoji/internal/config"
)

// Exit codes for semantic error classification.
// These follow Unix/GNU conventions:
//   - 0: Success
//   - 1: General error
//   - 2: CLI usage error (misuse of command line)
//   - 3: Panic
const (
	ExitSuccess      = 0 // All books transformed
	ExitGeneralError = 1 // A transform failed
	ExitUsageError   = 2 // CLI usage error (missing args, invalid flags)
	ExitPanic        = 3 // Internal panic (unexpected crash)
)

// ErrUsage marks command-line misuse detected by this package.
var ErrUsage = errors.New("usage error")

// usagePatterns are the message prefixes cobra and pflag use for misuse.
var usagePatterns = []string{
	"unknown flag",
	"unknown shorthand flag",
	"unknown command",
	"accepts ",
	"requires at least",
	"required flag",
	"invalid argument",
	"flag needs an argument",
	"if any flags in the group",
}

// ExitCodeForError returns the appropriate exit code for an error.
// Returns ExitSuccess (0) for nil errors, ExitUsageError for misuse
// and ExitGeneralError (1) for everything else.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, ErrUsage) || errors.Is(err, config.ErrInvalidConfig) {
		return ExitUsageError
	}
	msg := err.Error()
	for _, p := range usagePatterns {
		if strings.Contains(msg, p) {
			return ExitUsageError
		}
	}
	return ExitGeneralError
}
