package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/KemoDesignz/dev-vm/types"
	"github.com/KemoDesignz/dev-vm/vagrant"
)

// ErrChecksumMismatch marks a downloaded asset that failed sha256
// verification. The partial download is removed; nothing is installed.
var ErrChecksumMismatch = errors.New("asset checksum mismatch")

// guestRunner is the slice of the VM driver needed to run commands in
// the guest.
type guestRunner interface {
	GuestExec(ctx context.Context, command string) (*vagrant.Result, error)
}

// Probe reports presence and version of one tool inside the guest.
// Read-only; errors degrade to "absent" rather than failing the caller.
func Probe(ctx context.Context, guest guestRunner, tool Tool) types.ToolStatus {
	st := types.ToolStatus{Name: tool.Name, PackageManaged: tool.PackageManaged}
	res, err := guest.GuestExec(ctx, "command -v "+tool.Name)
	if err != nil || !res.OK() {
		return st
	}
	st.Present = true
	if tool.VersionCmd != "" {
		if vres, verr := guest.GuestExec(ctx, tool.VersionCmd); verr == nil {
			st.Version = firstLine(vres.Stdout)
		}
	}
	return st
}

// Reinstall fetches the tool's latest release and installs it inside
// the guest: download, verify against the checksums asset when the
// project ships one, move into /usr/local/bin. Returns the installed
// tag.
func Reinstall(ctx context.Context, guest guestRunner, hc *http.Client, tool Tool, token string) (string, error) {
	logger := log.WithFunc("tools.Reinstall")
	if tool.PackageManaged {
		return "", fmt.Errorf("%s is package managed, reinstall it with a full provision", tool.Name)
	}

	rel, err := LatestRelease(ctx, hc, tool.Repo, token)
	if err != nil {
		return "", err
	}
	asset, err := FindAsset(rel, tool.AssetPattern)
	if err != nil {
		return "", err
	}

	work := "/tmp/devvm-" + tool.Name
	download := fmt.Sprintf("mkdir -p %s && cd %s && curl -fsSL -o %s %s",
		work, work, asset.Name, asset.BrowserDownloadURL)
	if _, err := guest.GuestExec(ctx, download); err != nil {
		return "", fmt.Errorf("download %s: %w", asset.Name, err)
	}

	if tool.ChecksumPattern != nil {
		sums, serr := FindAsset(rel, tool.ChecksumPattern)
		if serr != nil {
			logger.Warnf(ctx, "%s %s ships no checksums asset, installing unverified", tool.Repo, rel.TagName)
		} else {
			verify := fmt.Sprintf("cd %s && curl -fsSL -o sums.txt %s && grep '%s$' sums.txt | sha256sum -c -",
				work, sums.BrowserDownloadURL, asset.Name)
			if _, err := guest.GuestExec(ctx, verify); err != nil {
				_, _ = guest.GuestExec(ctx, "rm -rf "+work)
				return "", fmt.Errorf("%w: %s from %s", ErrChecksumMismatch, asset.Name, rel.TagName)
			}
		}
	}

	var install string
	if tool.ArchiveMember != "" {
		install = fmt.Sprintf("cd %s && sudo tar -xzf %s -C /usr/local/bin %s && cd / && rm -rf %s",
			work, asset.Name, tool.ArchiveMember, work)
	} else {
		install = fmt.Sprintf("cd %s && sudo install -m 0755 %s /usr/local/bin/%s && cd / && rm -rf %s",
			work, asset.Name, tool.Name, work)
	}
	if _, err := guest.GuestExec(ctx, install); err != nil {
		return "", fmt.Errorf("install %s: %w", tool.Name, err)
	}
	logger.Infof(ctx, "%s reinstalled at %s", tool.Name, rel.TagName)
	return rel.TagName, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
