// Package kubeconfig maintains the host-side per-VM kubeconfig copies:
// extraction from the guest, the loopback-to-private-IP server rewrite,
// and a connectivity probe. Writes go through a file lock because other
// host tooling reads the same files.
package kubeconfig

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/projecteru2/core/log"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/KemoDesignz/dev-vm/config"
	"github.com/KemoDesignz/dev-vm/lock"
	"github.com/KemoDesignz/dev-vm/utils"
	"github.com/KemoDesignz/dev-vm/vagrant"
)

// guestKubeconfigPath is where the Kubernetes distribution inside the
// guest writes its admin kubeconfig.
const guestKubeconfigPath = "/etc/rancher/k3s/k3s.yaml"

// guestReader is the slice of the VM driver needed to pull files out of
// the guest.
type guestReader interface {
	GuestExec(ctx context.Context, command string) (*vagrant.Result, error)
}

// Store manages kubeconfig copies keyed by VM name under the host
// config directory.
type Store struct {
	dir    string
	locker lock.Locker
}

// NewStore builds a store rooted at the host config's kube directory.
func NewStore(conf *config.Config) *Store {
	return &Store{
		dir:    conf.KubeDir(),
		locker: lock.NewFileLock(conf.KubeconfigLock()),
	}
}

// Path returns where the named VM's kubeconfig copy lives.
func (s *Store) Path(vmName string) string {
	return filepath.Join(s.dir, vmName+".yaml")
}

// Exists reports whether a copy for the named VM is present.
func (s *Store) Exists(vmName string) bool {
	_, err := os.Stat(s.Path(vmName))
	return err == nil
}

// Extract waits for the guest kubeconfig to materialize, pulls it out,
// rewrites the loopback server address to the VM's routable private IP
// and stores the result. The rewrite is load-bearing: host tooling
// cannot reach the guest's loopback interface, so a copy without it is
// useless. Returns the stored path.
func (s *Store) Extract(ctx context.Context, d guestReader, vmName, privateIP string, waitAttempts int, waitInterval time.Duration) (string, error) {
	logger := log.WithFunc("kubeconfig.Extract")

	err := utils.Poll(ctx, waitAttempts, waitInterval, func() (bool, error) {
		res, err := d.GuestExec(ctx, "sudo test -f "+guestKubeconfigPath)
		return err == nil && res.OK(), nil
	})
	if err != nil {
		return "", fmt.Errorf("guest kubeconfig %s never materialized: %w", guestKubeconfigPath, err)
	}

	// base64 keeps the transfer a single line, immune to output capture
	// limits and line-ending mangling.
	res, err := d.GuestExec(ctx, "sudo base64 -w0 "+guestKubeconfigPath)
	if err != nil {
		return "", fmt.Errorf("read guest kubeconfig: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(res.Stdout))
	if err != nil {
		return "", fmt.Errorf("decode guest kubeconfig: %w", err)
	}

	cfg, err := clientcmd.Load(raw)
	if err != nil {
		return "", fmt.Errorf("parse guest kubeconfig: %w", err)
	}
	if rewriteLoopback(cfg, privateIP) {
		logger.Infof(ctx, "rewrote kubeconfig server to %s", privateIP)
	}
	data, err := clientcmd.Write(*cfg)
	if err != nil {
		return "", fmt.Errorf("serialize kubeconfig: %w", err)
	}

	path := s.Path(vmName)
	err = lock.WithLock(ctx, s.locker, func() error {
		if err := utils.EnsureDirs(s.dir); err != nil {
			return err
		}
		return utils.WriteFileAtomic(path, data, 0o600)
	})
	if err != nil {
		return "", fmt.Errorf("store kubeconfig %s: %w", path, err)
	}
	logger.Infof(ctx, "kubeconfig stored: %s", path)
	return path, nil
}

// Remove deletes the named VM's copy; absence is not an error.
func (s *Store) Remove(ctx context.Context, vmName string) error {
	return lock.WithLock(ctx, s.locker, func() error {
		err := os.Remove(s.Path(vmName))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

// rewriteLoopback points every loopback cluster server at ip, keeping
// the original port. Non-loopback servers are left alone.
func rewriteLoopback(cfg *clientcmdapi.Config, ip string) bool {
	changed := false
	for _, cluster := range cfg.Clusters {
		u, err := url.Parse(cluster.Server)
		if err != nil {
			continue
		}
		host := u.Hostname()
		if host != "127.0.0.1" && host != "localhost" {
			continue
		}
		port := u.Port()
		if port == "" {
			port = "6443"
		}
		u.Host = net.JoinHostPort(ip, port)
		cluster.Server = u.String()
		changed = true
	}
	return changed
}
