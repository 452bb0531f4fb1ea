// Package descriptor renders the resolved configuration into the
// declarative machine description consumed by the VM driver, and keeps
// the on-disk copy in sync without gratuitous rewrites.
package descriptor

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/types"
)

//go:embed Vagrantfile.tmpl
var vagrantfileTemplate string

// EnvStage is the name of the descriptor-synthesized provision block
// that materializes credentials and version pins inside the guest. It
// must run before any catalog stage that consumes them.
const EnvStage = "env"

// ErrUnknownToken is returned when the template carries a placeholder
// the renderer has no value for. Substitution is allow-listed: only
// known tokens are replaced, anything else is a hard error rather than
// silently passing through into the descriptor.
var ErrUnknownToken = errors.New("unknown template token")

var tokenPattern = regexp.MustCompile(`\{\{([A-Z_]+)\}\}`)

// Render produces the full descriptor text from the host config, the
// resolved machine config and the ordered stage list. It never touches
// the VM or the filesystem.
func Render(conf *config.Config, rc *config.ResolvedConfig, stages []types.Stage) (string, error) {
	exports, err := credentialExports(rc)
	if err != nil {
		return "", err
	}
	tokens := map[string]string{
		"VM_NAME":            rc.Name,
		"CPUS":               strconv.Itoa(rc.CPUs),
		"MEMORY_MB":          strconv.Itoa(rc.MemoryMB),
		"DISK_GB":            strconv.Itoa(rc.DiskGB),
		"PRIVATE_IP":         rc.PrivateIP,
		"BOOT_TIMEOUT":       strconv.Itoa(conf.BootTimeoutSeconds),
		"WORKSPACE_DIR":      filepath.ToSlash(conf.WorkspaceDir),
		"PORT_FORWARDS":      portForwards(rc.Ports),
		"CREDENTIAL_EXPORTS": exports,
		"PROVISION_BLOCKS":   provisionBlocks(stages),
	}

	// Single-pass replacement: substituted values are never rescanned,
	// so a secret that happens to contain "{{...}}" stays literal.
	var missing []string
	out := tokenPattern.ReplaceAllStringFunc(vagrantfileTemplate, func(m string) string {
		name := tokenPattern.FindStringSubmatch(m)[1]
		v, ok := tokens[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownToken, strings.Join(missing, ", "))
	}
	return out, nil
}

// portForwards renders one forwarded_port line per entry. Collisions
// are tolerated; the description only annotates.
func portForwards(ports []config.PortForward) string {
	lines := make([]string, 0, len(ports))
	for _, p := range ports {
		line := fmt.Sprintf("  config.vm.network \"forwarded_port\", guest: %d, host: %d, auto_correct: %t",
			p.Guest, p.Host, p.AutoCorrect)
		if p.Description != "" {
			line += fmt.Sprintf(", id: %s", rubyString(p.Description))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// credentialExports renders the body of the guest env file: one export
// per set credential or version pin, each value held in a single-quoted
// shell string. Values are rejected if they contain a newline; there is
// no way to keep a multi-line value a single shell token here.
func credentialExports(rc *config.ResolvedConfig) (string, error) {
	pairs := []struct{ key, value string }{
		{"GITHUB_TOKEN", rc.Credentials.GithubToken},
		{"DOCKERHUB_USER", rc.Credentials.DockerhubUser},
		{"DOCKERHUB_TOKEN", rc.Credentials.DockerhubToken},
		{"K3S_VERSION", rc.Versions.K3s},
		{"NODE_MAJOR", rc.Versions.Node},
	}
	var lines []string
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		if strings.ContainsAny(p.value, "\r\n") {
			return "", fmt.Errorf("%w: %s contains a line break", config.ErrInvalidConfig, p.key)
		}
		lines = append(lines, fmt.Sprintf("export %s=%s", p.key, ShellSingleQuote(p.value)))
	}
	return strings.Join(lines, "\n"), nil
}

// provisionBlocks renders each stage as a named shell provisioner with
// run "never": boot never triggers them, the stage runner invokes them
// one by one. The heredoc delimiter is derived from the stage name so
// blocks cannot terminate each other.
func provisionBlocks(stages []types.Stage) string {
	blocks := make([]string, 0, len(stages))
	for _, st := range stages {
		delim := "DEVVM_STAGE_" + strings.ToUpper(strings.ReplaceAll(st.Name, "-", "_"))
		var b strings.Builder
		fmt.Fprintf(&b, "  config.vm.provision %s, type: \"shell\", run: \"never\", inline: <<-'%s'\n",
			rubyString(st.Name), delim)
		b.WriteString(strings.TrimRight(st.Script, "\n"))
		b.WriteString("\n  " + delim)
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// ShellSingleQuote wraps s in single quotes, escaping embedded single
// quotes with a close-escape-reopen sequence so the result stays one
// shell token.
func ShellSingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// rubyString renders s as a double-quoted Ruby string literal with
// backslash, quote and interpolation characters escaped.
func rubyString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `#`, `\#`)
	return `"` + r.Replace(s) + `"`
}
