package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmfnal/metacat-sub001/internal/qerr"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(LoadResult{Datasets: 2, Files: 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.QueryID)
	assert.Equal(t, map[string]any{"datasets": 2.0, "files": 3.0, "queries": 0.0}, resp.Data)
}

func TestOutputFormatter_SuccessWithID(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.SuccessWithID("0190c1d2-0000-7000-8000-000000000000", []string{}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "0190c1d2-0000-7000-8000-000000000000", resp.QueryID)
	assert.Equal(t, []any{}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("UNKNOWN_FILTER", "unknown filter nope", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNKNOWN_FILTER", resp.Error.Code)
	assert.Equal(t, "unknown filter nope", resp.Error.Message)
	assert.Nil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("SYNTAX_ERROR", "unexpected end of query", map[string]int{"line": 1}))
			assert.Contains(t, buf.String(), "Error [SYNTAX_ERROR]: unexpected end of query")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details:")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_QueryError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
		wantDetails bool
	}{
		{
			name:        "positioned",
			err:         &qerr.Error{Code: qerr.CodeSyntax, Message: "unexpected end of query", Pos: qerr.Pos{Offset: 10, Line: 1, Column: 11}},
			wantCode:    "SYNTAX_ERROR",
			wantMessage: "unexpected end of query",
			wantDetails: true,
		},
		{
			name:        "cycle path",
			err:         &qerr.Error{Code: qerr.CodeCyclicQuery, Message: "cycle", Path: []string{"a:x", "a:y", "a:x"}},
			wantCode:    "CYCLIC_QUERY",
			wantMessage: "cycle",
			wantDetails: true,
		},
		{
			name:        "wrapped cause",
			err:         fmt.Errorf("evaluate: %w", &qerr.Error{Code: qerr.CodeStore, Message: "fetch files", Err: errors.New("disk full")}),
			wantCode:    "STORE_ERROR",
			wantMessage: "fetch files: disk full",
		},
		{
			name:        "plain",
			err:         errors.New("boom"),
			wantCode:    ErrCodeGeneric,
			wantMessage: "boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.QueryError(tt.err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantMessage, resp.Error.Message)
			assert.Equal(t, tt.wantDetails, resp.Error.Details != nil)
		})
	}
}

func TestOutputFormatter_CommandError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	cause := errors.New("no such file")
	err := formatter.CommandError("read fixture", cause)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, buf.String(), "Error [COMMAND_ERROR]: read fixture: no such file")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitFailure, "failed"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("other")))

	err := WrapExitError(ExitCommandError, "open catalog", errors.New("locked"))
	assert.Equal(t, "open catalog: locked", err.Error())
}

func TestOutputFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	formatter.Table([]string{"FILE", "SIZE"}, [][]string{{"test:f1.raw", "100"}, {"test:f2.raw", "200"}})
	out := buf.String()
	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, "test:f1.raw")
	assert.Contains(t, out, "200")
	assert.NotContains(t, out, "+--")
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
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: tt.verbose}

			formatter.VerboseLog("compiled %s", "files from test:raw")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "compiled files from test:raw")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}
