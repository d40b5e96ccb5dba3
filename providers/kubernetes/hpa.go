package kubernetes

import (
	"context"
	"fmt"

	"github.com/picklr-io/eksstack/internal/provider"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"
)

type HPAConfig struct {
	Cluster        Connection        `json:"cluster"`
	Namespace      string            `json:"namespace"`
	Name           string            `json:"name"`
	Labels         map[string]string `json:"labels"`
	ScaleTargetRef ScaleTarget       `json:"scale_target_ref"`
	MinReplicas    int32             `json:"min_replicas"`
	MaxReplicas    int32             `json:"max_replicas"`
	Metrics        []ResourceMetric  `json:"metrics"`
}

type ScaleTarget struct {
	APIVersion string `json:"api_version"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
}

// ResourceMetric scales on average utilization of a container resource.
type ResourceMetric struct {
	Resource           string `json:"resource"`
	AverageUtilization int32  `json:"average_utilization"`
}

func (c HPAConfig) object() (*autoscalingv2.HorizontalPodAutoscaler, error) {
	if c.MaxReplicas < 1 || (c.MinReplicas > 0 && c.MinReplicas > c.MaxReplicas) {
		return nil, provider.Permanent(fmt.Errorf("invalid replica bounds %d..%d", c.MinReplicas, c.MaxReplicas))
	}
	metrics := make([]autoscalingv2.MetricSpec, 0, len(c.Metrics))
	for _, m := range c.Metrics {
		switch corev1.ResourceName(m.Resource) {
		case corev1.ResourceCPU, corev1.ResourceMemory:
		default:
			return nil, provider.Permanent(fmt.Errorf("unsupported metric resource %q", m.Resource))
		}
		utilization := m.AverageUtilization
		metrics = append(metrics, autoscalingv2.MetricSpec{
			Type: autoscalingv2.ResourceMetricSourceType,
			Resource: &autoscalingv2.ResourceMetricSource{
				Name: corev1.ResourceName(m.Resource),
				Target: autoscalingv2.MetricTarget{
					Type:               autoscalingv2.UtilizationMetricType,
					AverageUtilization: &utilization,
				},
			},
		})
	}

	hpa := &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: namespaceOrDefault(c.Namespace),
			Labels:    c.Labels,
		},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				APIVersion: c.ScaleTargetRef.APIVersion,
				Kind:       c.ScaleTargetRef.Kind,
				Name:       c.ScaleTargetRef.Name,
			},
			MaxReplicas: c.MaxReplicas,
			Metrics:     metrics,
		},
	}
	if c.MinReplicas > 0 {
		minReplicas := c.MinReplicas
		hpa.Spec.MinReplicas = &minReplicas
	}
	return hpa, nil
}

type HPAState struct {
	ObjectState
	MinReplicas     int32 `json:"min_replicas"`
	MaxReplicas     int32 `json:"max_replicas"`
	CurrentReplicas int32 `json:"current_replicas"`
}

func hpaAttrs(h *autoscalingv2.HorizontalPodAutoscaler) (provider.Attributes, error) {
	state := HPAState{
		ObjectState:     objectState(h),
		MaxReplicas:     h.Spec.MaxReplicas,
		CurrentReplicas: h.Status.CurrentReplicas,
	}
	if h.Spec.MinReplicas != nil {
		state.MinReplicas = *h.Spec.MinReplicas
	}
	return provider.Encode(state)
}

type hpaAdapter struct{ p *Provider }

func (a *hpaAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired HPAConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	obj, err := desired.object()
	if err != nil {
		return nil, err
	}
	cs, err := a.p.client(ctx, desired.Cluster)
	if err != nil {
		return nil, err
	}
	created, err := cs.AutoscalingV2().HorizontalPodAutoscalers(obj.Namespace).Create(ctx, obj, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return a.apply(ctx, cs, obj)
	}
	if err != nil {
		return nil, Classify("failed to create horizontal pod autoscaler "+obj.Name, err)
	}
	return hpaAttrs(created)
}

func (a *hpaAdapter) apply(ctx context.Context, cs k8s.Interface, obj *autoscalingv2.HorizontalPodAutoscaler) (provider.Attributes, error) {
	client := cs.AutoscalingV2().HorizontalPodAutoscalers(obj.Namespace)
	live, err := client.Get(ctx, obj.Name, metav1.GetOptions{})
	if err != nil {
		return nil, Classify("failed to get horizontal pod autoscaler "+obj.Name, err)
	}
	live.Labels = obj.Labels
	live.Spec = obj.Spec
	updated, err := client.Update(ctx, live, metav1.UpdateOptions{})
	if err != nil {
		return nil, Classify("failed to update horizontal pod autoscaler "+obj.Name, err)
	}
	return hpaAttrs(updated)
}

func (a *hpaAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	ref, err := locate(req)
	if err != nil {
		return nil, false, err
	}
	cs, err := a.p.client(ctx, ref.Cluster)
	if err != nil {
		return nil, false, err
	}
	h, err := cs.AutoscalingV2().HorizontalPodAutoscalers(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Classify("failed to get horizontal pod autoscaler "+ref.Name, err)
	}
	attrs, err := hpaAttrs(h)
	return attrs, err == nil, err
}

func (a *hpaAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired HPAConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	obj, err := desired.object()
	if err != nil {
		return nil, err
	}
	cs, err := a.p.client(ctx, desired.Cluster)
	if err != nil {
		return nil, err
	}
	return a.apply(ctx, cs, obj)
}

func (a *hpaAdapter) Delete(ctx context.Context, req *provider.Request) error {
	ref, err := locate(req)
	if err != nil {
		return err
	}
	cs, err := a.p.client(ctx, ref.Cluster)
	if err != nil {
		return err
	}
	err = cs.AutoscalingV2().HorizontalPodAutoscalers(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return Classify("failed to delete horizontal pod autoscaler "+ref.Name, err)
	}
	return nil
}
