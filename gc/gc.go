// Package gc sweeps stale machine snapshots. Updates take a
// pre-update snapshot each run; without a sweep the hypervisor keeps
// every one of them forever.
package gc

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/projecteru2/core/log"

	"github.com/KemoDesignz/dev-vm/vagrant"
)

// UpdatePrefix marks the snapshots taken automatically before an
// update. The timestamp suffix sorts lexicographically in creation
// order.
const UpdatePrefix = "pre-update-"

// KeepDefault is how many pre-update snapshots survive a sweep.
const KeepDefault = 3

// snapshotDriver is the slice of the VM driver the sweep needs.
type snapshotDriver interface {
	SnapshotList(ctx context.Context) ([]string, error)
	SnapshotDelete(ctx context.Context, name string) (*vagrant.Result, error)
}

// PruneUpdateSnapshots deletes all but the newest keep pre-update
// snapshots and returns the names it removed. Snapshots outside the
// pre-update namespace (the baseline, anything user-made) are never
// touched. Individual delete failures don't stop the sweep.
func PruneUpdateSnapshots(ctx context.Context, drv snapshotDriver, keep int) ([]string, error) {
	logger := log.WithFunc("gc.PruneUpdateSnapshots")
	if keep < 0 {
		keep = 0
	}

	names, err := drv.SnapshotList(ctx)
	if err != nil {
		return nil, err
	}

	dated := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, UpdatePrefix) {
			dated = append(dated, name)
		}
	}
	if len(dated) <= keep {
		return nil, nil
	}
	sort.Strings(dated)

	var (
		pruned []string
		errs   []error
	)
	for _, name := range dated[:len(dated)-keep] {
		if _, err := drv.SnapshotDelete(ctx, name); err != nil {
			logger.Warnf(ctx, "delete snapshot %s: %v", name, err)
			errs = append(errs, err)
			continue
		}
		pruned = append(pruned, name)
	}
	return pruned, errors.Join(errs...)
}
