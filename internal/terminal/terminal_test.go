package terminal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSessionsOutput_ParsesTabSeparatedFields(t *testing.T) {
	out := []byte("dev\t3\t1\nbackend\t1\t0\n")
	sessions := parseSessionsOutput(out)

	assert.Equal(t, []SessionMeta{
		{Name: "dev", Windows: 3, Attached: true},
		{Name: "backend", Windows: 1, Attached: false},
	}, sessions)
}

func TestParseSessionsOutput_SkipsBlankLinesAndMalformedRows(t *testing.T) {
	out := []byte("dev\t3\t1\n\nbad-row-without-tabs\n")
	sessions := parseSessionsOutput(out)

	assert.Len(t, sessions, 1)
	assert.Equal(t, "dev", sessions[0].Name)
}

func TestParseSessionsOutput_SanitizesControlCharactersAndLength(t *testing.T) {
	dirty := "dev\x07\x1b[31m" + strings.Repeat("x", maxNameLen+50)
	out := []byte(dirty + "\t1\t0\n")
	sessions := parseSessionsOutput(out)

	assert.Len(t, sessions, 1)
	assert.NotContains(t, sessions[0].Name, "\x07")
	assert.LessOrEqual(t, len(sessions[0].Name), maxNameLen)
}

func TestParseWindowsOutput_ParsesTabSeparatedFields(t *testing.T) {
	out := []byte("0\tpm\t1\n2\tclaude\t0\n")
	windows := parseWindowsOutput(out)

	assert.Equal(t, []WindowMeta{
		{Index: 0, Name: "pm", Active: true},
		{Index: 2, Name: "claude", Active: false},
	}, windows)
}

func TestParseWindowsOutput_EmptyOutputReturnsNil(t *testing.T) {
	assert.Nil(t, parseWindowsOutput([]byte("")))
	assert.Nil(t, parseWindowsOutput([]byte("\n")))
}

func TestAdapter_BudgetDefaultsTo2Seconds(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, defaultCallBudget, a.budget())

	a.CallBudget = 500 * time.Millisecond
	assert.NotEqual(t, defaultCallBudget, a.budget())
	assert.Equal(t, 500*time.Millisecond, a.budget())
}

func TestAdapter_BinDefaultsToTmux(t *testing.T) {
	a := &Adapter{}
	assert.Equal(t, "tmux", a.bin())

	a.TmuxBin = "/usr/local/bin/tmux"
	assert.Equal(t, "/usr/local/bin/tmux", a.bin())
}

func TestErrTransport_UnwrapsUnderlyingError(t *testing.T) {
	inner := &ErrTransport{Op: "capture", Err: assert.AnError}
	assert.ErrorIs(t, inner, assert.AnError)
	assert.Contains(t, inner.Error(), "capture")
}
