package kubeconfig

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// Probe checks that the kubeconfig at path can actually reach its API
// server, bounded by timeout. Returns the server's version info on
// success so callers can surface it.
func Probe(path string, timeout time.Duration) (*version.Info, error) {
	restCfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig %s: %w", path, err)
	}
	restCfg.Timeout = timeout

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build client from %s: %w", path, err)
	}
	info, err := cs.Discovery().ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("probe api server: %w", err)
	}
	return info, nil
}
