package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/nathanwhyte/build-hook/internal/command/commandtest"
	"github.com/nathanwhyte/build-hook/internal/kube"
	"github.com/nathanwhyte/build-hook/pkg/config"
)

const projectFile = `
[app]
registry = "registry.example.com"

[[projects]]
name = "API"
slug = "api"

[projects.code]
url = "https://github.com/example/api"
branch = "main"

[[projects.image]]
repository = "example/api"
location = "Dockerfile"
tag = "latest"

[projects.deployments]
namespace = "prod"
resources = ["deployment/api"]
`

func TestValidateCommandPrintsSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(projectFile), 0o644))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "--config", path})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "project api (API)")
	assert.Contains(t, out.String(), "registry.example.com/example/api:latest <- Dockerfile")
	assert.Contains(t, out.String(), "deployment/api in prod")
}

func TestValidateCommandReportsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[app]\nregistry = \"\"\n"), 0o644))

	root := newRootCommand()
	root.SetArgs([]string{"validate", "--config", path})
	assert.Error(t, root.Execute())
}

func TestNewRestarterSelectsBackend(t *testing.T) {
	r, err := newRestarter(config.HookConfig{RestartBackend: config.RestartBackendKubectl}, &commandtest.Fake{})
	require.NoError(t, err)
	assert.IsType(t, &kube.CLIRestarter{}, r)

	_, err = newRestarter(config.HookConfig{RestartBackend: "helm"}, &commandtest.Fake{})
	assert.ErrorContains(t, err, "unknown RESTART_BACKEND")
}

func TestServeRequiresBearerTokens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	err := serve(ctx, config.HookConfig{ProjectFile: "missing.toml"})
	assert.ErrorContains(t, err, "BEARER_TOKENS")
}

func TestNewNotifierDisabledWithoutURL(t *testing.T) {
	fn, err := newNotifier(config.HookConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, fn)
}

func TestNewRestarterAPIUsesKubeconfigEnv(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KUBERNETES_SERVICE_PORT", "")
	dir := t.TempDir()
	kubeconfig := clientcmdapi.NewConfig()
	kubeconfig.Clusters["dev"] = &clientcmdapi.Cluster{Server: "https://dev.example.com:6443"}
	kubeconfig.AuthInfos["dev"] = &clientcmdapi.AuthInfo{Token: "t"}
	kubeconfig.Contexts["dev"] = &clientcmdapi.Context{Cluster: "dev", AuthInfo: "dev"}
	kubeconfig.CurrentContext = "dev"
	envPath := filepath.Join(dir, "config")
	require.NoError(t, clientcmd.WriteToFile(*kubeconfig, envPath))
	t.Setenv("KUBECONFIG", envPath)

	cfg := config.HookConfig{RestartBackend: config.RestartBackendAPI}
	cfg.Cluster.KubeconfigPath = filepath.Join(dir, "not-written-yet")
	r, err := newRestarter(cfg, &commandtest.Fake{})
	require.NoError(t, err)
	assert.IsType(t, &kube.APIRestarter{}, r)
}
