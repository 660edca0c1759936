// Package kubeconfig prepares kubectl access when running inside a pod.
package kubeconfig

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
)

const (
	serviceAccountDir = "/run/secrets/kubernetes.io/serviceaccount"
	contextName       = "kube"
)

// Env describes where the in-cluster credentials live.
type Env struct {
	ServiceAccountDir string // token and ca.crt
	Home              string
	Host              string // KUBERNETES_SERVICE_HOST
	Port              string // KUBERNETES_SERVICE_PORT
}

// EnvFromOS reads Env from the process environment.
func EnvFromOS() Env {
	home, _ := os.UserHomeDir()
	return Env{
		ServiceAccountDir: serviceAccountDir,
		Home:              home,
		Host:              os.Getenv("KUBERNETES_SERVICE_HOST"),
		Port:              os.Getenv("KUBERNETES_SERVICE_PORT"),
	}
}

// Path returns $HOME/.kube/config.
func (e Env) Path() string {
	return filepath.Join(e.Home, ".kube", "config")
}

// Setup writes a kubeconfig built from the service account when running in
// a pod and no kubeconfig exists yet. It reports whether a file was written.
func Setup(env Env) (bool, error) {
	if env.Host == "" {
		return false, nil
	}
	path := env.Path()
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	cfg, err := InCluster(env)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, err
	}
	if err := clientcmd.WriteToFile(*cfg, path); err != nil {
		return false, fmt.Errorf("failed to write kubeconfig: %w", err)
	}
	log.Infof("kubeconfig: wrote in-cluster config to %s", path)
	return true, nil
}

// InCluster builds a kubeconfig from the service account token and CA.
func InCluster(env Env) (*clientcmdapi.Config, error) {
	token, err := os.ReadFile(filepath.Join(env.ServiceAccountDir, "token"))
	if err != nil {
		return nil, fmt.Errorf("failed to read service account token: %w", err)
	}
	ca, err := os.ReadFile(filepath.Join(env.ServiceAccountDir, "ca.crt"))
	if err != nil {
		return nil, fmt.Errorf("failed to read service account CA: %w", err)
	}

	port := env.Port
	if port == "" {
		port = "443"
	}

	cfg := clientcmdapi.NewConfig()
	cfg.Clusters[contextName] = &clientcmdapi.Cluster{
		Server:                   "https://" + net.JoinHostPort(env.Host, port),
		CertificateAuthorityData: ca,
	}
	cfg.AuthInfos[contextName] = &clientcmdapi.AuthInfo{Token: string(token)}
	cfg.Contexts[contextName] = &clientcmdapi.Context{Cluster: contextName, AuthInfo: contextName}
	cfg.CurrentContext = contextName
	return cfg, nil
}

// CurrentContext returns the current context of the default kubeconfig
// loading rules (KUBECONFIG, then ~/.kube/config).
func CurrentContext() (string, error) {
	cfg, err := clientcmd.NewDefaultClientConfigLoadingRules().Load()
	if err != nil {
		return "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return cfg.CurrentContext, nil
}
