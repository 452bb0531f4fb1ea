// Package stages holds the ordered provisioning stage catalog and the
// runner that drives stages against the VM one at a time. Idempotence
// is a contract the scripts satisfy themselves (install-if-absent);
// the runner tracks nothing across runs.
package stages

import (
	"embed"
	"fmt"

	"github.com/KemoDesignz/dev-vm/types"
)

//go:embed scripts/*.sh
var scriptFS embed.FS

// order is the canonical stage sequence. Later stages may rely on
// earlier ones (docker before k3s, k3s before tools) but never the
// reverse.
var order = []string{"base", "docker", "k3s", "helm", "tools", "node", "workspace"}

var catalog = mustCatalog()

func mustCatalog() []types.Stage {
	out := make([]types.Stage, 0, len(order))
	for _, name := range order {
		data, err := scriptFS.ReadFile("scripts/" + name + ".sh")
		if err != nil {
			panic(fmt.Sprintf("embedded stage script %s: %v", name, err))
		}
		out = append(out, types.Stage{Name: name, Script: string(data)})
	}
	return out
}

// Catalog returns the ordered stages with their embedded scripts. The
// returned slice is a copy; callers may reorder or trim it freely.
func Catalog() []types.Stage {
	out := make([]types.Stage, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns the catalog stage names in order.
func Names() []string {
	out := make([]string, len(order))
	copy(out, order)
	return out
}
