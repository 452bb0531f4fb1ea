package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/KemoDesignz/dev-vm/utils"
)

// ErrRateLimited marks a GitHub API refusal. Callers treat it as a
// degraded condition for the one tool, not a fatal error for the run.
var ErrRateLimited = errors.New("github api rate limited")

// apiBase is a var so tests can point the client at a local server.
var apiBase = "https://api.github.com"

// Release is the slice of the GitHub release payload the installer
// needs.
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// Asset is one downloadable release artifact.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// LatestRelease fetches the newest release of owner/repo. A token
// raises the unauthenticated rate limit and is optional.
func LatestRelease(ctx context.Context, hc *http.Client, repo, token string) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", apiBase, repo)
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	rel, err := utils.DoWithRetry(ctx, func() (*Release, error) {
		var r Release
		if err := utils.GetJSON(ctx, hc, url, headers, &r); err != nil {
			return nil, err
		}
		return &r, nil
	})
	if err != nil {
		if utils.IsRateLimited(err) {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, repo)
		}
		return nil, fmt.Errorf("latest release of %s: %w", repo, err)
	}
	if rel.TagName == "" {
		return nil, fmt.Errorf("latest release of %s: empty tag", repo)
	}
	return rel, nil
}

// FindAsset returns the first asset whose name matches pattern.
func FindAsset(rel *Release, pattern *regexp.Regexp) (*Asset, error) {
	for i := range rel.Assets {
		if pattern.MatchString(rel.Assets[i].Name) {
			return &rel.Assets[i], nil
		}
	}
	return nil, fmt.Errorf("release %s has no asset matching %s", rel.TagName, pattern)
}
