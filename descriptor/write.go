package descriptor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/KemoDesignz/dev-vm/utils"
	"github.com/projecteru2/core/log"
)

// Sync writes the rendered text to path only when it differs from what
// is already there, comparing after line-ending normalization so a
// CRLF checkout does not look like drift. An unchanged descriptor is
// skipped to keep the VM driver from seeing a modified file and
// restarting the machine for nothing. Reports whether a write happened.
func Sync(ctx context.Context, path, text string) (bool, error) {
	logger := log.WithFunc("descriptor.Sync")
	existing, err := os.ReadFile(path) //nolint:gosec
	switch {
	case err == nil:
		if normalize(string(existing)) == normalize(text) {
			logger.Infof(ctx, "descriptor unchanged: %s", path)
			return false, nil
		}
	case !os.IsNotExist(err):
		return false, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	if err := utils.WriteFileAtomic(path, []byte(text), 0o600); err != nil {
		return false, fmt.Errorf("write descriptor %s: %w", path, err)
	}
	logger.Infof(ctx, "descriptor written: %s", path)
	return true, nil
}

func normalize(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
