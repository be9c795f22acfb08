package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "chatsync", cmd.Use)
	assert.Contains(t, cmd.Long, "conversations")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"serve", "dm", "send", "history", "chats", "read", "react", "overlay", "scenario",
		"user put", "user get",
		"group create", "group join", "group add", "group remove", "group leave",
		"group admin", "group permissions", "group rename", "group avatar",
		"group search", "group delete",
	}

	for _, path := range commands {
		t.Run(path, func(t *testing.T) {
			parts := strings.Fields(path)
			subCmd, _, err := cmd.Find(parts)
			require.NoError(t, err, "Command %s should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, parts[len(parts)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestSendCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	sendCmd, _, err := cmd.Find([]string{"send"})
	require.NoError(t, err)

	for _, name := range []string{"as", "file", "reply-to"} {
		assert.NotNil(t, sendCmd.Flags().Lookup(name), name)
	}
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	userFlag := serveCmd.Flags().Lookup("user")
	require.NotNil(t, userFlag)
	assert.Equal(t, "[]", userFlag.DefValue)
	require.NotNil(t, serveCmd.Flags().Lookup("no-assistant"))
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--format", "xml", "chats", "alice"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
