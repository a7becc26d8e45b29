package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/offshore-budgeting/syncore/internal/catalog"
	"github.com/offshore-budgeting/syncore/internal/config"
	"github.com/offshore-budgeting/syncore/internal/planned"
	"github.com/offshore-budgeting/syncore/internal/storemode"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation refused or scenarios failed
	ExitCommandError = 2 // Command error (bad config, store cannot be attached, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the error was already written to the output.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool

	// Currency is the ISO code amounts are displayed in.
	Currency string
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E_NOT_FOUND", "E_CONFIG", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Render outputs data as a JSON response, or calls text for human output.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes err in the configured format and returns it as an ExitError
// that is not printed again.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	exitErr := WrapExitError(exit, message, err)
	exitErr.Reported = true
	return exitErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Money renders an amount in the configured currency, e.g. "$1,650.00".
// Unknown currencies fall back to the plain decimal.
func (f *OutputFormatter) Money(amount decimal.Decimal) string {
	code := f.Currency
	if code == "" {
		code = "USD"
	}
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.String()
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONLine writes v as a single line of JSON.
func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// errNoMatch is returned when a name or id given on the command line matches
// nothing.
var errNoMatch = errors.New("no match")

// errAmbiguous is returned when a name matches more than one record.
var errAmbiguous = errors.New("ambiguous reference")

// errInvalidInput marks a malformed flag or argument.
var errInvalidInput = errors.New("invalid input")

// classify maps an error to a response code and exit code.
func classify(err error) (string, int) {
	var (
		cfgErr  *config.ValidationError
		exitErr *ExitError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "E_CONFIG", ExitCommandError
	case errors.As(err, &exitErr):
		return "E_COMMAND", exitErr.Code
	case storemode.IsAttachError(err):
		return "E_ATTACH", ExitCommandError
	case errors.Is(err, planned.ErrPresetExists):
		return "E_PRESET_EXISTS", ExitFailure
	case errors.Is(err, planned.ErrNotFound), errors.Is(err, planned.ErrNotTemplate),
		errors.Is(err, workspace.ErrNotFound), errors.Is(err, errNoMatch):
		return "E_NOT_FOUND", ExitFailure
	case errors.Is(err, errAmbiguous):
		return "E_AMBIGUOUS", ExitFailure
	case errors.Is(err, workspace.ErrNameTaken):
		return "E_NAME_TAKEN", ExitFailure
	case errors.Is(err, workspace.ErrLastWorkspace):
		return "E_LAST_WORKSPACE", ExitFailure
	case errors.Is(err, workspace.ErrEmptyName), errors.Is(err, planned.ErrEmptyTitle),
		errors.Is(err, catalog.ErrEmptyName), errors.Is(err, catalog.ErrInvalidSpan),
		errors.Is(err, errInvalidInput):
		return "E_INVALID", ExitFailure
	default:
		return "E_FAILED", ExitFailure
	}
}
