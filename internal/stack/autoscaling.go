package stack

import (
	"fmt"

	"github.com/picklr-io/eksstack/internal/config"
	"github.com/picklr-io/eksstack/internal/ir"
)

const (
	metricsServerRepo = "https://kubernetes-sigs.github.io/metrics-server/charts"
	servicePort       = 80
)

// Autoscaling is the HPA demo: metrics-server plus a scaled deployment.
type Autoscaling struct {
	MetricsServer *ir.Resource
	Deployment    *ir.Resource
	Service       *ir.Resource
	HPA           *ir.Resource
}

func (st *Stack) declareAutoscaling(s *config.Settings, c *Cluster) *Autoscaling {
	as := &Autoscaling{}

	labels := map[string]any{
		"app":       s.DemoAppName,
		"ManagedBy": "eksstack",
		"Component": "HPA",
	}
	selector := map[string]any{"app": s.DemoAppName}

	as.MetricsServer = st.add("metrics-server", ir.KindHelmRelease, map[string]any{
		"cluster":   c.connection(),
		"name":      "metrics-server",
		"namespace": "kube-system",
		"chart":     "metrics-server",
		"repo":      metricsServerRepo,
		"version":   s.MetricsServerChartVersion,
		"values": map[string]any{
			"args": []any{
				"--kubelet-insecure-tls",
				"--kubelet-preferred-address-types=InternalIP",
			},
		},
	}, c.NodeGroup)

	as.Deployment = st.add(s.DemoAppName, ir.KindDeployment, map[string]any{
		"cluster":   c.connection(),
		"namespace": s.DemoNamespace,
		"name":      s.DemoAppName,
		"labels":    labels,
		"selector":  selector,
		"replicas":  s.DemoReplicas,
		"container": map[string]any{
			"name":  s.DemoAppName,
			"image": s.DemoAppImage,
			"port":  s.DemoAppPort,
			"requests": map[string]any{
				"cpu":    "100m",
				"memory": "128Mi",
			},
			"limits": map[string]any{
				"cpu":    "500m",
				"memory": "512Mi",
			},
		},
	}, c.NodeGroup)

	svcName := fmt.Sprintf("%s-service", s.DemoAppName)
	as.Service = st.add(svcName, ir.KindService, map[string]any{
		"cluster":   c.connection(),
		"namespace": s.DemoNamespace,
		"name":      svcName,
		"labels":    selector,
		"selector":  selector,
		"type":      "LoadBalancer",
		"ports": []any{
			map[string]any{"port": servicePort, "target_port": s.DemoAppPort},
		},
	}, c.NodeGroup)

	hpaName := fmt.Sprintf("%s-hpa", s.DemoAppName)
	as.HPA = st.add(hpaName, ir.KindHPA, map[string]any{
		"cluster":   c.connection(),
		"namespace": s.DemoNamespace,
		"name":      hpaName,
		"labels":    selector,
		"scale_target_ref": map[string]any{
			"api_version": "apps/v1",
			"kind":        "Deployment",
			"name":        ir.RefTo(as.Deployment, "name"),
		},
		"min_replicas": s.HPAMinReplicas,
		"max_replicas": s.HPAMaxReplicas,
		"metrics": []any{
			map[string]any{"resource": "cpu", "average_utilization": s.HPACPUThreshold},
			map[string]any{"resource": "memory", "average_utilization": s.HPAMemoryThreshold},
		},
	}, as.MetricsServer)

	return as
}
