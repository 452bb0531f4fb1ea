// Package tools manages the guest CLI tool set: the catalog of what a
// healthy machine carries, presence probes, and reinstallation of
// release-binary tools from their upstream projects.
package tools

import "regexp"

// Tool describes one guest CLI. Release-binary tools carry a GitHub
// repo and asset patterns and can be reinstalled in place; package or
// script managed tools are probe-only, their reinstall path is a full
// re-provision.
type Tool struct {
	Name           string
	PackageManaged bool
	VersionCmd     string

	Repo            string
	AssetPattern    *regexp.Regexp
	ChecksumPattern *regexp.Regexp
	// ArchiveMember names the binary inside a tar.gz asset; empty means
	// the asset is the raw binary.
	ArchiveMember string
}

var catalog = []Tool{
	{
		Name:            "k9s",
		VersionCmd:      "k9s version --short",
		Repo:            "derailed/k9s",
		AssetPattern:    regexp.MustCompile(`^k9s_Linux_amd64\.tar\.gz$`),
		ChecksumPattern: regexp.MustCompile(`^checksums(\.txt|\.sha256)$`),
		ArchiveMember:   "k9s",
	},
	{
		Name:         "yq",
		VersionCmd:   "yq --version",
		Repo:         "mikefarah/yq",
		AssetPattern: regexp.MustCompile(`^yq_linux_amd64$`),
		// yq's checksums file is multi-algorithm, not sha256sum -c
		// compatible; install unverified.
	},
	{
		Name:            "lazydocker",
		VersionCmd:      "lazydocker --version",
		Repo:            "jesseduffield/lazydocker",
		AssetPattern:    regexp.MustCompile(`^lazydocker_.*_Linux_x86_64\.tar\.gz$`),
		ChecksumPattern: regexp.MustCompile(`^checksums\.txt$`),
		ArchiveMember:   "lazydocker",
	},
	{Name: "docker", PackageManaged: true, VersionCmd: "docker --version"},
	{Name: "git", PackageManaged: true, VersionCmd: "git --version"},
	{Name: "node", PackageManaged: true, VersionCmd: "node --version"},
	{Name: "helm", PackageManaged: true, VersionCmd: "helm version --short"},
	{Name: "kubectl", PackageManaged: true, VersionCmd: "kubectl version --client | head -n1"},
}

// Catalog returns all expected guest tools.
func Catalog() []Tool {
	out := make([]Tool, len(catalog))
	copy(out, catalog)
	return out
}

// ByName looks a tool up in the catalog.
func ByName(name string) (Tool, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
