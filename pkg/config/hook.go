package config

import "time"

// Restart backends accepted by RESTART_BACKEND.
const (
	RestartBackendKubectl = "kubectl"
	RestartBackendAPI     = "api"
)

// HookConfig holds runtime configuration for the build-hook service.
type HookConfig struct {
	Addr            string
	ProjectFile     string
	Workdir         string
	LogLevel        string
	LogFormat       string
	BearerTokens    []string
	SourceToken     string
	NotifyURL       string
	NotifyToken     string
	RestartBackend  string
	GitTimeout      time.Duration
	BuildTimeout    time.Duration
	RestartTimeout  time.Duration
	ShutdownTimeout time.Duration
	Builder         BuilderConfig
	Cluster         ClusterConfig
}

// BuilderConfig describes the remote buildx builder the service selects at startup.
type BuilderConfig struct {
	Name           string
	Driver         string
	Namespace      string
	Replicas       int
	RequestsCPU    string
	RequestsMemory string
	LimitsCPU      string
	LimitsMemory   string
}

// ClusterConfig carries the in-cluster discovery settings used to write a kubeconfig
// for the builder's control plane.
type ClusterConfig struct {
	ServiceHost       string
	ServicePort       string
	ServiceAccountDir string
	KubeconfigPath    string
}

// LoadHookConfig constructs a HookConfig from environment variables.
func LoadHookConfig() HookConfig {
	return HookConfig{
		Addr:            GetString("HOOK_ADDR", ":5000"),
		ProjectFile:     GetString("HOOK_CONFIG", "config.toml"),
		Workdir:         GetString("HOOK_WORKDIR", "/tmp/build-hook"),
		LogLevel:        GetString("LOG_LEVEL", "info"),
		LogFormat:       GetString("LOG_FORMAT", "json"),
		BearerTokens:    GetList("BEARER_TOKENS"),
		SourceToken:     GetString("GITHUB_TOKEN", ""),
		NotifyURL:       GetString("NOTIFY_URL", ""),
		NotifyToken:     GetString("NOTIFY_TOKEN", ""),
		RestartBackend:  GetString("RESTART_BACKEND", RestartBackendKubectl),
		GitTimeout:      GetSeconds("GIT_TIMEOUT_SECONDS", 300),
		BuildTimeout:    GetSeconds("BUILD_TIMEOUT_SECONDS", 0),
		RestartTimeout:  GetSeconds("RESTART_TIMEOUT_SECONDS", 120),
		ShutdownTimeout: GetSeconds("SHUTDOWN_TIMEOUT_SECONDS", 30),
		Builder: BuilderConfig{
			Name:           GetString("BUILDX_BUILDER", "builder"),
			Driver:         GetString("BUILDX_DRIVER", "kubernetes"),
			Namespace:      GetString("BUILDX_NAMESPACE", "build"),
			Replicas:       GetInt("BUILDX_REPLICAS", 1),
			RequestsCPU:    GetString("BUILDX_REQUESTS_CPU", ""),
			RequestsMemory: GetString("BUILDX_REQUESTS_MEMORY", ""),
			LimitsCPU:      GetString("BUILDX_LIMITS_CPU", ""),
			LimitsMemory:   GetString("BUILDX_LIMITS_MEMORY", ""),
		},
		Cluster: ClusterConfig{
			ServiceHost:       GetString("KUBERNETES_SERVICE_HOST", ""),
			ServicePort:       GetString("KUBERNETES_SERVICE_PORT", ""),
			ServiceAccountDir: GetString("SERVICE_ACCOUNT_DIR", "/var/run/secrets/kubernetes.io/serviceaccount"),
			KubeconfigPath:    GetString("HOOK_KUBECONFIG", "/tmp/kubeconfig"),
		},
	}
}
