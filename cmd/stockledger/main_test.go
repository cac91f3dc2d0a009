package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	ledgercli "github.com/odyssey-erp/stockledger/cmd/stockledger/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	_ "github.com/odyssey-erp/stockledger/internal/testing/guard"
)

func TestMainSkipsInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cliApp := newApp()
	cliApp.Writer = stdout
	cliApp.ErrWriter = stderr
	err := cliApp.RunContext(context.Background(), append([]string{"stockledger"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestReconcileCommandOnEmptyLedger(t *testing.T) {
	stdout, stderr, err := run(t, "reconcile", "--json")
	require.NoError(t, err, stderr)

	var summary ledgercli.ReconcileSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	require.True(t, summary.OK)
	require.Zero(t, summary.Keys)
}

func TestReconcileCommandRejectsHalfKey(t *testing.T) {
	_, stderr, err := run(t, "reconcile", "--product", "3")
	var exit cli.ExitCoder
	require.True(t, errors.As(err, &exit))
	require.Equal(t, 1, exit.ExitCode())
	require.Contains(t, stderr, "--product and --warehouse")
}

func TestJobsTriggerValidatesArguments(t *testing.T) {
	_, _, err := run(t, "jobs", "trigger")
	var exit cli.ExitCoder
	require.True(t, errors.As(err, &exit))
	require.Equal(t, 2, exit.ExitCode())

	_, stderr, err := run(t, "jobs", "trigger", "ledger:unknown")
	require.True(t, errors.As(err, &exit))
	require.Equal(t, 1, exit.ExitCode())
	require.Contains(t, stderr, "unsupported job")
}

func TestCommandsAreRegistered(t *testing.T) {
	cliApp := newApp()
	require.NotNil(t, cliApp.Command("serve"))
	require.NotNil(t, cliApp.Command("reconcile"))
	jobsCmd := cliApp.Command("jobs")
	require.NotNil(t, jobsCmd)
	names := []string{}
	for _, sub := range jobsCmd.Subcommands {
		names = append(names, sub.Name)
	}
	require.ElementsMatch(t, []string{"trigger", "stats"}, names)
}
