package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/projecteru2/core/log"
	coretypes "github.com/projecteru2/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KemoDesignz/dev-vm/vagrant"
)

func TestMain(m *testing.M) {
	_ = log.SetupLog(context.TODO(), &coretypes.ServerLogConfig{Level: "error"}, "")
	os.Exit(m.Run())
}

type fakeGuest struct {
	cmds   []string
	failOn string
}

func (f *fakeGuest) GuestExec(_ context.Context, cmd string) (*vagrant.Result, error) {
	f.cmds = append(f.cmds, cmd)
	if f.failOn != "" && strings.Contains(cmd, f.failOn) {
		return &vagrant.Result{ExitCode: 1}, errors.New("exit 1")
	}
	return &vagrant.Result{Stdout: "ok"}, nil
}

func (f *fakeGuest) ran(substr string) bool {
	for _, c := range f.cmds {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// releaseAPI points apiBase at a local server for the test's duration.
func releaseAPI(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	prev := apiBase
	apiBase = srv.URL
	t.Cleanup(func() { apiBase = prev })
}

const k9sRelease = `{"tag_name":"v0.32.5","assets":[
  {"name":"checksums.sha256","browser_download_url":"https://dl.example/checksums.sha256"},
  {"name":"k9s_Darwin_amd64.tar.gz","browser_download_url":"https://dl.example/darwin.tar.gz"},
  {"name":"k9s_Linux_amd64.tar.gz","browser_download_url":"https://dl.example/k9s_Linux_amd64.tar.gz"}
]}`

func TestCatalogShape(t *testing.T) {
	cat := Catalog()
	require.Len(t, cat, 8)
	for _, tool := range cat {
		if tool.PackageManaged {
			assert.Empty(t, tool.Repo, "%s is probe-only", tool.Name)
		} else {
			assert.NotEmpty(t, tool.Repo, "%s needs a release source", tool.Name)
			assert.NotNil(t, tool.AssetPattern, "%s needs an asset pattern", tool.Name)
		}
	}

	k9s, ok := ByName("k9s")
	require.True(t, ok)
	assert.False(t, k9s.PackageManaged)
	_, ok = ByName("absent")
	assert.False(t, ok)
}

func TestAssetPatternsAgainstRealNames(t *testing.T) {
	k9s, _ := ByName("k9s")
	assert.True(t, k9s.AssetPattern.MatchString("k9s_Linux_amd64.tar.gz"))
	assert.False(t, k9s.AssetPattern.MatchString("k9s_Darwin_amd64.tar.gz"))
	assert.False(t, k9s.AssetPattern.MatchString("k9s_Linux_arm64.tar.gz"))

	yq, _ := ByName("yq")
	assert.True(t, yq.AssetPattern.MatchString("yq_linux_amd64"))
	assert.False(t, yq.AssetPattern.MatchString("yq_linux_amd64.tar.gz"))

	lzd, _ := ByName("lazydocker")
	assert.True(t, lzd.AssetPattern.MatchString("lazydocker_0.24.1_Linux_x86_64.tar.gz"))
	assert.False(t, lzd.AssetPattern.MatchString("lazydocker_0.24.1_Linux_arm64.tar.gz"))
}

func TestLatestRelease(t *testing.T) {
	var gotAuth string
	releaseAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/repos/derailed/k9s/releases/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, k9sRelease)
	})

	rel, err := LatestRelease(context.Background(), http.DefaultClient, "derailed/k9s", "ghp_tok")
	require.NoError(t, err)
	assert.Equal(t, "v0.32.5", rel.TagName)
	assert.Len(t, rel.Assets, 3)
	assert.Equal(t, "Bearer ghp_tok", gotAuth)
}

func TestLatestReleaseRateLimitedNoRetry(t *testing.T) {
	var calls int
	releaseAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
	})

	_, err := LatestRelease(context.Background(), http.DefaultClient, "derailed/k9s", "")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, calls, "rate limit must not be retried")
}

func TestLatestReleaseEmptyTag(t *testing.T) {
	releaseAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"assets":[]}`)
	})
	_, err := LatestRelease(context.Background(), http.DefaultClient, "x/y", "")
	require.Error(t, err)
}

func TestFindAsset(t *testing.T) {
	rel := &Release{TagName: "v1", Assets: []Asset{{Name: "a_linux"}, {Name: "b_darwin"}}}
	k9s, _ := ByName("k9s")
	_, err := FindAsset(rel, k9s.AssetPattern)
	require.Error(t, err)
}

func TestProbe(t *testing.T) {
	guest := &fakeGuest{}
	yq, _ := ByName("yq")
	st := Probe(context.Background(), guest, yq)
	assert.True(t, st.Present)
	assert.Equal(t, "ok", st.Version)
	assert.False(t, st.PackageManaged)

	absent := &fakeGuest{failOn: "command -v"}
	st = Probe(context.Background(), absent, yq)
	assert.False(t, st.Present)
	assert.Empty(t, st.Version)
}

func TestReinstallFullFlow(t *testing.T) {
	releaseAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, k9sRelease)
	})
	guest := &fakeGuest{}
	k9s, _ := ByName("k9s")

	tag, err := Reinstall(context.Background(), guest, http.DefaultClient, k9s, "")
	require.NoError(t, err)
	assert.Equal(t, "v0.32.5", tag)

	assert.True(t, guest.ran("curl -fsSL -o k9s_Linux_amd64.tar.gz https://dl.example/k9s_Linux_amd64.tar.gz"))
	assert.True(t, guest.ran("sha256sum -c"))
	assert.True(t, guest.ran("sudo tar -xzf k9s_Linux_amd64.tar.gz -C /usr/local/bin k9s"))
}

func TestReinstallChecksumMismatch(t *testing.T) {
	releaseAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, k9sRelease)
	})
	guest := &fakeGuest{failOn: "sha256sum -c"}
	k9s, _ := ByName("k9s")

	_, err := Reinstall(context.Background(), guest, http.DefaultClient, k9s, "")
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.True(t, guest.ran("rm -rf /tmp/devvm-k9s"), "failed download must be cleaned up")
	assert.False(t, guest.ran("tar -xzf"), "nothing installs after a bad checksum")
}

func TestReinstallUnverifiedWhenNoChecksumAsset(t *testing.T) {
	releaseAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tag_name":"v4.44.1","assets":[
		  {"name":"yq_linux_amd64","browser_download_url":"https://dl.example/yq_linux_amd64"}]}`)
	})
	guest := &fakeGuest{}
	yq, _ := ByName("yq")

	tag, err := Reinstall(context.Background(), guest, http.DefaultClient, yq, "")
	require.NoError(t, err)
	assert.Equal(t, "v4.44.1", tag)
	assert.False(t, guest.ran("sha256sum"), "yq has no usable checksums asset")
	assert.True(t, guest.ran("sudo install -m 0755 yq_linux_amd64 /usr/local/bin/yq"))
}

func TestReinstallRefusesPackageManaged(t *testing.T) {
	docker, _ := ByName("docker")
	_, err := Reinstall(context.Background(), &fakeGuest{}, http.DefaultClient, docker, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package managed")
}
