package main

import (
	"bytes"
	"testing"

	"github.com/mywio/im-notify/pkg/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	cmd := rootCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, "notifyctl", cmd.Use)

	for _, name := range []string{"config", "listener", "output", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"validate", "status", "send"}, names)
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "validate takes none", args: []string{"validate", "x"}, wantErr: true},
		{name: "status needs address", args: []string{"status"}, wantErr: true},
		{name: "send needs text", args: []string{"send", "a@b"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := rootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			err := cmd.Execute()
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestPrintDiagnostics(t *testing.T) {
	outputFmt = "text"
	defer func() { outputFmt = "text" }()

	var buf bytes.Buffer
	require.NoError(t, printDiagnostics(&buf, map[string][]string{
		"ops":     {`priorities: unknown priority "nonsense"`},
		"default": nil,
	}))
	assert.Equal(t, "default: ok\nops:\n  - priorities: unknown priority \"nonsense\"\n", buf.String())

	outputFmt = "json"
	buf.Reset()
	require.NoError(t, printDiagnostics(&buf, map[string][]string{"default": {}}))
	assert.JSONEq(t, `{"default": []}`, buf.String())
}

func TestPrintResult(t *testing.T) {
	outputFmt = "text"
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "AWAY"))
	require.NoError(t, printResult(&buf, map[string]interface{}{"status": "ONLINE", "sent": true}))
	assert.Equal(t, "AWAY\nstatus: ONLINE\nsent: true\n", buf.String())
}

func TestStatusHelpListsStates(t *testing.T) {
	cmd := statusCmd()
	for _, s := range []presence.State{presence.Offline, presence.Online, presence.Busy, presence.Away, presence.AwayLong} {
		assert.Contains(t, cmd.Long, s.String())
	}
	assert.NotContains(t, cmd.Long, "DND")
}
