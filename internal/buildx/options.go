package buildx

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Options describes the builder endpoint created when none exists yet.
type Options struct {
	Name           string
	Driver         string
	Namespace      string
	Replicas       int
	RequestsCPU    string
	RequestsMemory string
	LimitsCPU      string
	LimitsMemory   string
}

// Validate checks the options before any command is issued. Resource values must be
// Kubernetes quantities since the kubernetes driver passes them to the builder pods.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("builder name cannot be empty")
	}
	if strings.TrimSpace(o.Driver) == "" {
		return fmt.Errorf("builder driver cannot be empty")
	}
	if o.Replicas < 0 {
		return fmt.Errorf("builder replicas cannot be negative")
	}
	quantities := map[string]string{
		"requests.cpu":    o.RequestsCPU,
		"requests.memory": o.RequestsMemory,
		"limits.cpu":      o.LimitsCPU,
		"limits.memory":   o.LimitsMemory,
	}
	for key, value := range quantities {
		if value == "" {
			continue
		}
		if _, err := resource.ParseQuantity(value); err != nil {
			return fmt.Errorf("builder %s %q: %w", key, value, err)
		}
	}
	return nil
}

func (o Options) driverOpts() []string {
	var opts []string
	add := func(key, value string) {
		if value != "" {
			opts = append(opts, key+"="+value)
		}
	}
	add("namespace", o.Namespace)
	if o.Replicas > 0 {
		add("replicas", strconv.Itoa(o.Replicas))
	}
	add("requests.cpu", o.RequestsCPU)
	add("requests.memory", o.RequestsMemory)
	add("limits.cpu", o.LimitsCPU)
	add("limits.memory", o.LimitsMemory)
	return opts
}
