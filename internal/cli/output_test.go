package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"scope": "pair-1"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("MUTATE_FAILED", "remote rejected insert", map[string]string{"key": "tmp-1"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MUTATE_FAILED", resp.Error.Code)
	assert.Equal(t, "remote rejected insert", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
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

			require.NoError(t, formatter.Error("NOT_FOUND", "no record srv-9", "habits"))
			assert.Contains(t, buf.String(), "Error [NOT_FOUND]")
			assert.Contains(t, buf.String(), "no record srv-9")
			assert.Equal(t, tt.wantDetails, bytes.Contains(buf.Bytes(), []byte("Details:")))
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		verbose bool
		toOut   bool
		toErr   bool
	}{
		{"text verbose", "text", true, false, true},
		{"text quiet", "text", false, false, false},
		{"json verbose", "json", true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    tt.format,
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("binding %s", "pair-1")

			assert.Equal(t, tt.toOut, bytes.Contains(out.Bytes(), []byte("binding pair-1")))
			assert.Equal(t, tt.toErr, bytes.Contains(errOut.Bytes(), []byte("binding pair-1")))
		})
	}
}

func TestGetExitCode(t *testing.T) {
	cause := errors.New("connection refused")

	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "open backend", cause)))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "2 of 4 scenarios failed")))
	assert.Equal(t, ExitFailure, GetExitCode(cause))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("run: %w", NewExitError(ExitCommandError, "bad flag"))))

	wrapped := WrapExitError(ExitFailure, "update failed", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "update failed: connection refused", wrapped.Error())
}

func TestPrintView_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := printView(formatter, ReplicaView{
		Kind:    "goals",
		Scope:   "pair-1",
		Stale:   true,
		Pending: 1,
		Records: []map[string]any{
			{"id": "srv-1", "title": "Trip"},
			{"id": "tmp-1", "title": "Car"},
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "goals @ pair-1: 2 record(s) [stale] [1 pending]")
	assert.Contains(t, out, `  {"id":"srv-1","title":"Trip"}`)
	assert.Contains(t, out, `  {"id":"tmp-1","title":"Car"}`)
}

func TestConfirmedKey(t *testing.T) {
	before := []string{"srv-1"}

	assert.Equal(t, "tmp-1", confirmedKey(before, []string{"srv-1", "tmp-1"}, "tmp-1"))
	assert.Equal(t, "srv-2", confirmedKey(before, []string{"srv-1", "srv-2"}, "tmp-1"))
	// Rolled back: nothing new appeared.
	assert.Equal(t, "tmp-1", confirmedKey(before, []string{"srv-1"}, "tmp-1"))
}
