package buildx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

const kubeContextName = "build-hook"

// InClusterProvisioner writes a kubeconfig from the pod's service-account credentials
// so the kubernetes driver (and kubectl) can reach the control plane.
type InClusterProvisioner struct {
	ServiceAccountDir string
	Host              string
	Port              string
	KubeconfigPath    string
	Logger            *slog.Logger
}

func (p *InClusterProvisioner) tokenPath() string {
	return filepath.Join(p.ServiceAccountDir, "token")
}

func (p *InClusterProvisioner) caPath() string {
	return filepath.Join(p.ServiceAccountDir, "ca.crt")
}

// Enabled reports whether a service-account token is mounted.
func (p *InClusterProvisioner) Enabled() bool {
	if p == nil || p.ServiceAccountDir == "" {
		return false
	}
	info, err := os.Stat(p.tokenPath())
	return err == nil && !info.IsDir()
}

// Provision writes the kubeconfig. It is a no-op when no token is mounted.
func (p *InClusterProvisioner) Provision(ctx context.Context) error {
	if !p.Enabled() {
		if p != nil && p.Logger != nil {
			p.Logger.Warn("service account token not found, skipping kubeconfig setup")
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Host == "" || p.Port == "" {
		return fmt.Errorf("KUBERNETES_SERVICE_HOST and KUBERNETES_SERVICE_PORT must be set when a service account token is mounted")
	}
	if p.KubeconfigPath == "" {
		return fmt.Errorf("kubeconfig path cannot be empty")
	}
	token, err := os.ReadFile(p.tokenPath())
	if err != nil {
		return fmt.Errorf("read service account token: %w", err)
	}

	cfg := clientcmdapi.NewConfig()
	cluster := clientcmdapi.NewCluster()
	cluster.Server = "https://" + net.JoinHostPort(p.Host, p.Port)
	if _, err := os.Stat(p.caPath()); err == nil {
		cluster.CertificateAuthority = p.caPath()
	}
	cfg.Clusters[kubeContextName] = cluster

	auth := clientcmdapi.NewAuthInfo()
	auth.Token = strings.TrimSpace(string(token))
	cfg.AuthInfos[kubeContextName] = auth

	kctx := clientcmdapi.NewContext()
	kctx.Cluster = kubeContextName
	kctx.AuthInfo = kubeContextName
	cfg.Contexts[kubeContextName] = kctx
	cfg.CurrentContext = kubeContextName

	if err := os.MkdirAll(filepath.Dir(p.KubeconfigPath), 0o755); err != nil {
		return fmt.Errorf("create kubeconfig directory: %w", err)
	}
	if err := clientcmd.WriteToFile(*cfg, p.KubeconfigPath); err != nil {
		return fmt.Errorf("write kubeconfig: %w", err)
	}
	if p.Logger != nil {
		p.Logger.Info("kubeconfig written", "path", p.KubeconfigPath, "server", cluster.Server)
	}
	return nil
}
