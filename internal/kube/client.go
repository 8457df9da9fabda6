package kube

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/nathanwhyte/build-hook/internal/project"
)

// RestartedAtAnnotation is the pod template annotation kubectl bumps on rollout restart.
const RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// NewClientset prefers in-cluster configuration. Elsewhere it loads kubeconfigPath
// when that file exists, then the files named by KUBECONFIG, then ~/.kube/config.
func NewClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	cfg, err := restConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return clientset, nil
}

func restConfig(kubeconfigPath string) (*rest.Config, error) {
	cfg, inClusterErr := rest.InClusterConfig()
	if inClusterErr == nil {
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	// The provisioner may not have written this file yet, so a missing one is skipped.
	if path := strings.TrimSpace(kubeconfigPath); path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			rules.ExplicitPath = path
		}
	}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("create kubeconfig client (in-cluster: %v): %w", inClusterErr, err)
	}
	return cfg, nil
}

// APIRestarter restarts workloads by patching their pod template through the API
// server, the same change kubectl makes.
type APIRestarter struct {
	client kubernetes.Interface
	now    func() time.Time
}

// NewAPIRestarter creates a client-go backed Restarter.
func NewAPIRestarter(client kubernetes.Interface) *APIRestarter {
	return &APIRestarter{client: client, now: time.Now}
}

// Restart patches the restartedAt annotation of the workload's pod template.
func (r *APIRestarter) Restart(ctx context.Context, namespace string, resource project.ResourceID) error {
	patch := fmt.Sprintf(`{"spec":{"template":{"metadata":{"annotations":{%q:%q}}}}}`,
		RestartedAtAnnotation, r.now().UTC().Format(time.RFC3339))
	data := []byte(patch)
	opts := metav1.PatchOptions{FieldManager: "build-hook"}

	var err error
	switch resource.Kind {
	case project.KindDeployment:
		_, err = r.client.AppsV1().Deployments(namespace).Patch(ctx, resource.Name, types.StrategicMergePatchType, data, opts)
	case project.KindStatefulSet:
		_, err = r.client.AppsV1().StatefulSets(namespace).Patch(ctx, resource.Name, types.StrategicMergePatchType, data, opts)
	case project.KindDaemonSet:
		_, err = r.client.AppsV1().DaemonSets(namespace).Patch(ctx, resource.Name, types.StrategicMergePatchType, data, opts)
	default:
		return fmt.Errorf("restart %s: unsupported kind %q", resource, resource.Kind)
	}
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("restart %s: not found in namespace %s", resource, namespace)
		}
		return fmt.Errorf("restart %s: %w", resource, err)
	}
	return nil
}
