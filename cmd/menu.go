package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// menuAction pairs a menu label with the subcommand it dispatches to.
type menuAction struct {
	label   string
	command string
}

// menuActions lists the six actions in menu order.
func menuActions() []menuAction {
	return []menuAction{
		{"Setup - create and provision the VM", "setup"},
		{"Provision - re-run provisioning stages", "provision"},
		{"Repair - diagnose and fix drift", "repair"},
		{"Health - read-only status report", "health"},
		{"Update - upgrade packages and tools", "update"},
		{"Cleanup - tear everything down", "cleanup"},
	}
}

// parseMenuChoice validates a 1-based menu answer.
func parseMenuChoice(answer string, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || n < 1 || n > max {
		return 0, fmt.Errorf("invalid choice %q, expected 1-%d", answer, max)
	}
	return n, nil
}

// runMenu is the root command body: with a terminal it presents the
// numbered action menu, otherwise it prints usage.
func runMenu(cmd *cobra.Command, _ []string) error {
	if !interactiveTerminal() {
		return cmd.Help()
	}

	actions := menuActions()
	fmt.Fprintln(cmd.OutOrStdout(), "devvm actions:")
	for i, a := range actions {
		fmt.Fprintf(cmd.OutOrStdout(), "  %d) %s\n", i+1, a.label)
	}

	answer, err := newStdinPrompter().Prompt("choose an action (empty to quit)", "")
	if err != nil {
		return err
	}
	if answer == "" {
		return nil
	}
	n, err := parseMenuChoice(answer, len(actions))
	if err != nil {
		return err
	}

	sub, _, err := cmd.Root().Find([]string{actions[n-1].command})
	if err != nil {
		return err
	}
	sub.SetContext(commandContext(cmd))
	return sub.RunE(sub, nil)
}
