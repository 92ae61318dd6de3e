package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMachineBootsRunnableInit(t *testing.T) {
	m := newMachine()
	require.Equal(t, byte('R'), m.init.GetState().Char())
	require.True(t, m.init.IsInit())
}

func TestForkCommandIsWired(t *testing.T) {
	cmd := newForkCmd()
	require.Equal(t, "fork", cmd.Use)
	require.NotNil(t, cmd.RunE)
}

func TestStatsCommandIsWired(t *testing.T) {
	cmd := newStatsCmd()
	require.NotNil(t, cmd.RunE)
}

func TestConfigCommandRequiresExactlyOneArg(t *testing.T) {
	cmd := newConfigCmd()
	require.Error(t, cmd.Args(cmd, nil))
	require.Error(t, cmd.Args(cmd, []string{"a", "b"}))
	require.NoError(t, cmd.Args(cmd, []string{"a"}))
}
