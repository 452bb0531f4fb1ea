package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/moby/term"
	"github.com/spf13/cobra"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/stages"
	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/vagrant"
)

// exitError carries a specific process exit code to main.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func (e *exitError) ExitCode() int { return e.code }

// buildDriver wires the VM driver from the tool config and global flags.
func buildDriver() *vagrant.Driver {
	d := vagrant.New(conf)
	d.DryRun = flagDryRun
	return d
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func interactiveTerminal() bool {
	return term.IsTerminal(os.Stdin.Fd())
}

// stdinPrompter asks on stdout and reads answers from stdin. It backs
// both config resolution prompts and yes/no confirmations.
type stdinPrompter struct {
	in  *bufio.Reader
	out *os.File
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func (p *stdinPrompter) Prompt(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *stdinPrompter) Confirm(question string) (bool, error) {
	answer, err := p.Prompt(question+" [y/N]", "")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// prompter returns the interactive prompter, or nil when the run must
// not ask questions (--yes, --dry-run, or no terminal attached).
func prompter() config.Prompter {
	if flagYes || flagDryRun || !interactiveTerminal() {
		return nil
	}
	return newStdinPrompter()
}

// confirm asks one yes/no question honoring --yes; without a terminal
// the answer is no.
func confirm(question string) (bool, error) {
	if flagYes {
		return true, nil
	}
	if !interactiveTerminal() {
		return false, nil
	}
	return newStdinPrompter().Confirm(question)
}

// addMachineFlags registers the per-action machine parameters.
func addMachineFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "VM name")
	cmd.Flags().Int("cpus", 0, "CPU count")
	cmd.Flags().Int("memory", 0, "memory in MB")
	cmd.Flags().Int("disk", 0, "disk size in GB")
	cmd.Flags().String("ip", "", "private network IP")
	cmd.Flags().String("github-token", "", "GitHub API token")
	cmd.Flags().String("dockerhub-user", "", "Docker Hub username")
	cmd.Flags().String("dockerhub-token", "", "Docker Hub access token")
	cmd.Flags().String("k3s-version", "", "k3s version pin")
	cmd.Flags().String("node-version", "", "Node.js major version pin")
}

// paramsFromFlags collects explicitly set machine flags; unset flags
// stay nil so the file layers and prompts decide.
func paramsFromFlags(cmd *cobra.Command) config.Params {
	p := config.Params{}
	fl := cmd.Flags()
	if fl.Changed("name") {
		v, _ := fl.GetString("name")
		p.Name = &v
	}
	if fl.Changed("cpus") {
		v, _ := fl.GetInt("cpus")
		p.CPUs = &v
	}
	if fl.Changed("memory") {
		v, _ := fl.GetInt("memory")
		p.MemoryMB = &v
	}
	if fl.Changed("disk") {
		v, _ := fl.GetInt("disk")
		p.DiskGB = &v
	}
	if fl.Changed("ip") {
		v, _ := fl.GetString("ip")
		p.PrivateIP = &v
	}
	if fl.Changed("k3s-version") {
		v, _ := fl.GetString("k3s-version")
		p.K3sVersion = &v
	}
	if fl.Changed("node-version") {
		v, _ := fl.GetString("node-version")
		p.NodeVersion = &v
	}
	p.GithubToken, _ = fl.GetString("github-token")
	p.DockerhubUser, _ = fl.GetString("dockerhub-user")
	p.DockerhubToken, _ = fl.GetString("dockerhub-token")
	return p
}

// resolveMachine merges the layered config files with CLI flags into
// the final machine shape, prompting interactively where allowed.
func resolveMachine(cmd *cobra.Command) (*config.ResolvedConfig, error) {
	base, err := config.Load(conf.DefaultsFile())
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) {
			return nil, fmt.Errorf("%w: create %s first (vm name, cpus, memory, disk_gb, private_ip)",
				err, conf.DefaultsFile())
		}
		return nil, err
	}
	override, err := config.LoadOptional(conf.OverrideFile())
	if err != nil {
		return nil, err
	}
	merged := config.Merge(base, override)
	return config.Resolve(merged, paramsFromFlags(cmd), prompter())
}

// machineName resolves just the VM name without prompting, for actions
// that must not trigger interactive resolution.
func machineName(cmd *cobra.Command) string {
	if cmd.Flags().Lookup("name") != nil && cmd.Flags().Changed("name") {
		if name, _ := cmd.Flags().GetString("name"); name != "" {
			return name
		}
	}
	base, _ := config.LoadOptional(conf.DefaultsFile())
	override, _ := config.LoadOptional(conf.OverrideFile())
	if merged := config.Merge(base, override); merged.VM != nil &&
		merged.VM.Name != nil && *merged.VM.Name != "" {
		return *merged.VM.Name
	}
	return config.DefaultVMName
}

// describeStageFailure prints the failing stage's output tail and
// propagates its exit code.
func describeStageFailure(err error) error {
	var se *stages.StageError
	if errors.As(err, &se) {
		if se.Result.Output != "" {
			fmt.Fprintln(os.Stderr, se.Result.Output)
		}
		code := se.Result.ExitCode
		if code <= 0 {
			code = 1
		}
		return &exitError{code: code, msg: err.Error()}
	}
	return err
}

// reportStages logs one line per executed stage.
func reportStages(cmd *cobra.Command, results []types.StageResult) {
	for _, res := range results {
		if res.OK() {
			fmt.Fprintf(cmd.OutOrStdout(), "stage %s ok\n", res.Name)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "stage %s exited %d\n", res.Name, res.ExitCode)
		}
	}
}

func passFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}

// recordRun appends one line per completed action to the run history
// file, best-effort.
func recordRun(action string, err error) {
	if conf == nil || conf.LogDir == "" {
		return
	}
	if mkErr := os.MkdirAll(conf.LogDir, 0o755); mkErr != nil {
		return
	}
	f, openErr := os.OpenFile(conf.RunLogFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		return
	}
	defer f.Close()
	outcome := "ok"
	if err != nil {
		outcome = "error: " + err.Error()
	}
	fmt.Fprintf(f, "%s %s %s\n", time.Now().Format(time.RFC3339), action, outcome)
}

// logged wraps a RunE handler so every completed action lands in the
// run history file.
func logged(action string, fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		recordRun(action, err)
		return err
	}
}
