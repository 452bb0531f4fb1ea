package config

import (
	"context"
	"fmt"

	"github.com/KemoDesignz/dev-vm/utils"
	"github.com/projecteru2/core/log"
	"sigs.k8s.io/yaml"
)

// PromptMissingCredentials asks for each credential the resolved config
// does not already carry. Empty answers skip a credential; nothing is
// mandatory. Returns only the newly entered values, nil when the user
// entered none, and fills them into rc as a side effect.
func PromptMissingCredentials(rc *ResolvedConfig, prompter Prompter) (*Credentials, error) {
	if prompter == nil {
		return nil, nil
	}
	entered := &Credentials{}
	if rc.Credentials.GithubToken == "" {
		v, err := prompter.Prompt("GitHub token (optional, raises API limits)", "")
		if err != nil {
			return nil, fmt.Errorf("prompt github token: %w", err)
		}
		entered.GithubToken = v
		rc.Credentials.GithubToken = v
	}
	if rc.Credentials.DockerhubUser == "" {
		v, err := prompter.Prompt("Docker Hub user (optional)", "")
		if err != nil {
			return nil, fmt.Errorf("prompt dockerhub user: %w", err)
		}
		entered.DockerhubUser = v
		rc.Credentials.DockerhubUser = v
	}
	if rc.Credentials.DockerhubToken == "" {
		v, err := prompter.Prompt("Docker Hub token (optional)", "")
		if err != nil {
			return nil, fmt.Errorf("prompt dockerhub token: %w", err)
		}
		entered.DockerhubToken = v
		rc.Credentials.DockerhubToken = v
	}
	if entered.Empty() {
		return nil, nil
	}
	return entered, nil
}

// OfferPersistCredentials asks once whether newly entered credentials
// should be written to the override file and saves them on a yes.
// Declining is not an error; the credentials stay in memory for this
// run only.
func OfferPersistCredentials(ctx context.Context, path string, entered *Credentials, prompter Prompter) error {
	logger := log.WithFunc("config.OfferPersistCredentials")
	if entered.Empty() || prompter == nil {
		return nil
	}
	ok, err := prompter.Confirm(fmt.Sprintf("Save credentials to %s for future runs?", path))
	if err != nil {
		return fmt.Errorf("confirm credential save: %w", err)
	}
	if !ok {
		logger.Infof(ctx, "credentials kept in memory only")
		return nil
	}
	if err := SaveCredentials(path, entered); err != nil {
		return err
	}
	logger.Infof(ctx, "credentials saved to %s", path)
	return nil
}

// SaveCredentials merges the given credentials into the override file,
// creating it when absent. Existing override content is preserved; only
// the credential keys given here change. The file is written with owner
// only permissions because it now holds secrets.
func SaveCredentials(path string, entered *Credentials) error {
	if entered.Empty() {
		return nil
	}
	existing, err := LoadOptional(path)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &FileConfig{}
	}
	if existing.Credentials == nil {
		existing.Credentials = &Credentials{}
	}
	mergeCredentials(existing.Credentials, entered)

	data, err := yaml.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal override: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("write override %s: %w", path, err)
	}
	return nil
}
