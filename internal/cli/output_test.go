package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offshore-budgeting/syncore/internal/catalog"
	"github.com/offshore-budgeting/syncore/internal/config"
	"github.com/offshore-budgeting/syncore/internal/planned"
	"github.com/offshore-budgeting/syncore/internal/workspace"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E_NOT_FOUND", "workspace not found", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "workspace not found", resp.Error.Message)
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("E_INVALID", "bad budget", map[string]string{"flag": "end"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E_INVALID]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Render(t *testing.T) {
	text := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: text}
	require.NoError(t, f.Render(map[string]int{"n": 1}, func(w io.Writer) { fmt.Fprint(w, "one") }))
	assert.Equal(t, "one", text.String())

	js := &bytes.Buffer{}
	f = &OutputFormatter{Format: "json", Writer: js}
	require.NoError(t, f.Render(map[string]int{"n": 1}, func(w io.Writer) { t.Fatal("text renderer called in json mode") }))
	assert.JSONEq(t, `{"status":"ok","data":{"n":1}}`, js.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	err := f.Fail("failed to create template", fmt.Errorf("wrap: %w", planned.ErrPresetExists))

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, exitErr.Reported)
	assert.Equal(t, ExitFailure, exitErr.Code)
	assert.ErrorIs(t, err, planned.ErrPresetExists)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_PRESET_EXISTS", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "failed to create template")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("attached %s", "syncore.db")

			assert.Empty(t, buf.String())
			if tt.wantLog {
				assert.Contains(t, errBuf.String(), "attached syncore.db")
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestOutputFormatter_Money(t *testing.T) {
	tests := []struct {
		currency string
		amount   string
		want     string
	}{
		{"", "1650", "$1,650.00"},
		{"USD", "12.345", "$12.35"},
		{"EUR", "10", "€10.00"},
		{"JPY", "1200", "¥1,200"},
		{"XXX-NOT-A-CODE", "7.5", "7.5"},
	}
	for _, tt := range tests {
		t.Run(tt.currency+"/"+tt.amount, func(t *testing.T) {
			f := &OutputFormatter{Currency: tt.currency}
			assert.Equal(t, tt.want, f.Money(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code string
		exit int
	}{
		{&config.ValidationError{}, "E_CONFIG", ExitCommandError},
		{NewExitError(ExitCommandError, "no such dir"), "E_COMMAND", ExitCommandError},
		{planned.ErrPresetExists, "E_PRESET_EXISTS", ExitFailure},
		{planned.ErrNotFound, "E_NOT_FOUND", ExitFailure},
		{workspace.ErrNotFound, "E_NOT_FOUND", ExitFailure},
		{fmt.Errorf("budget %q: %w", "x", errNoMatch), "E_NOT_FOUND", ExitFailure},
		{errAmbiguous, "E_AMBIGUOUS", ExitFailure},
		{workspace.ErrNameTaken, "E_NAME_TAKEN", ExitFailure},
		{workspace.ErrLastWorkspace, "E_LAST_WORKSPACE", ExitFailure},
		{catalog.ErrInvalidSpan, "E_INVALID", ExitFailure},
		{errInvalidInput, "E_INVALID", ExitFailure},
		{errors.New("disk on fire"), "E_FAILED", ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			code, exit := classify(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.exit, exit)
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "x"))))
}
