package cli

import (
	"strconv"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/output"
)

// errRootRequired is the sentinel error for root privilege check
var errRootRequired = apperr.ErrRootRequired

// steps prints numbered progress lines in human mode
type steps struct {
	n     int
	total int
}

func newSteps(total int) *steps {
	return &steps{total: total}
}

// next prints "[n/total] ..." for the step about to run
func (s *steps) next(format string, args ...interface{}) {
	s.n++
	if jsonOutput {
		return
	}
	output.Step(s.n, s.total, format, args...)
}

// outputResult handles JSON or human-readable output
func outputResult(data interface{}, successMsg string, args ...interface{}) error {
	if jsonOutput {
		return output.JSON(data)
	}
	output.Summary(true, successMsg, args...)
	return nil
}

// requireRoot checks for root privileges
func requireRoot() error {
	return deps.RootChecker.RequireRoot()
}

// errorResult is the JSON form of a failed command
type errorResult struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// CommandResult represents a common result structure for CLI commands
type CommandResult struct {
	Success bool   `json:"success"`
	Subject string `json:"subject"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}

// intArg parses an optional positional integer
func intArg(args []string, i int, def int, name string) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, apperr.Validationf("%s must be a number, got %q", name, args[i])
	}
	if n <= 0 {
		return 0, apperr.Validationf("%s must be positive, got %d", name, n)
	}
	return n, nil
}
