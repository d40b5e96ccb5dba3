package kubernetes

import (
	"context"
	"fmt"
	"maps"

	"github.com/picklr-io/eksstack/internal/provider"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"
)

type DeploymentConfig struct {
	Cluster   Connection        `json:"cluster"`
	Namespace string            `json:"namespace"`
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels"`
	Selector  map[string]string `json:"selector"`
	Replicas  int32             `json:"replicas"`
	Container ContainerConfig   `json:"container"`
}

type ContainerConfig struct {
	Name     string        `json:"name"`
	Image    string        `json:"image"`
	Port     int32         `json:"port"`
	Requests ResourceUsage `json:"requests"`
	Limits   ResourceUsage `json:"limits"`
}

type ResourceUsage struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
}

func (r ResourceUsage) list() (corev1.ResourceList, error) {
	out := corev1.ResourceList{}
	for name, value := range map[corev1.ResourceName]string{
		corev1.ResourceCPU:    r.CPU,
		corev1.ResourceMemory: r.Memory,
	} {
		if value == "" {
			continue
		}
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, provider.Permanent(fmt.Errorf("invalid %s quantity %q: %w", name, value, err))
		}
		out[name] = q
	}
	return out, nil
}

// object renders the desired Deployment. Pod labels always carry the selector.
func (c DeploymentConfig) object() (*appsv1.Deployment, error) {
	requests, err := c.Container.Requests.list()
	if err != nil {
		return nil, err
	}
	limits, err := c.Container.Limits.list()
	if err != nil {
		return nil, err
	}

	podLabels := maps.Clone(c.Labels)
	if podLabels == nil {
		podLabels = map[string]string{}
	}
	maps.Copy(podLabels, c.Selector)

	container := corev1.Container{
		Name:  c.Container.Name,
		Image: c.Container.Image,
		Resources: corev1.ResourceRequirements{
			Requests: requests,
			Limits:   limits,
		},
	}
	if c.Container.Port > 0 {
		container.Ports = []corev1.ContainerPort{{ContainerPort: c.Container.Port, Protocol: corev1.ProtocolTCP}}
	}

	replicas := c.Replicas
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: namespaceOrDefault(c.Namespace),
			Labels:    c.Labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: c.Selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{container}},
			},
		},
	}, nil
}

type DeploymentState struct {
	ObjectState
	Replicas      int32 `json:"replicas"`
	ReadyReplicas int32 `json:"ready_replicas"`
}

func deploymentAttrs(d *appsv1.Deployment) (provider.Attributes, error) {
	state := DeploymentState{ObjectState: objectState(d), ReadyReplicas: d.Status.ReadyReplicas}
	if d.Spec.Replicas != nil {
		state.Replicas = *d.Spec.Replicas
	}
	return provider.Encode(state)
}

type deploymentAdapter struct{ p *Provider }

func (a *deploymentAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired DeploymentConfig
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

	created, err := cs.AppsV1().Deployments(obj.Namespace).Create(ctx, obj, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return a.apply(ctx, cs, obj)
	}
	if err != nil {
		return nil, Classify("failed to create deployment "+obj.Name, err)
	}
	return deploymentAttrs(created)
}

// apply overwrites the labels and spec of the live object with obj's.
func (a *deploymentAdapter) apply(ctx context.Context, cs k8s.Interface, obj *appsv1.Deployment) (provider.Attributes, error) {
	client := cs.AppsV1().Deployments(obj.Namespace)
	live, err := client.Get(ctx, obj.Name, metav1.GetOptions{})
	if err != nil {
		return nil, Classify("failed to get deployment "+obj.Name, err)
	}
	live.Labels = obj.Labels
	live.Spec.Replicas = obj.Spec.Replicas
	live.Spec.Template = obj.Spec.Template
	updated, err := client.Update(ctx, live, metav1.UpdateOptions{})
	if err != nil {
		return nil, Classify("failed to update deployment "+obj.Name, err)
	}
	return deploymentAttrs(updated)
}

func (a *deploymentAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	ref, err := locate(req)
	if err != nil {
		return nil, false, err
	}
	cs, err := a.p.client(ctx, ref.Cluster)
	if err != nil {
		return nil, false, err
	}
	d, err := cs.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Classify("failed to get deployment "+ref.Name, err)
	}
	attrs, err := deploymentAttrs(d)
	return attrs, err == nil, err
}

func (a *deploymentAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired DeploymentConfig
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

func (a *deploymentAdapter) Delete(ctx context.Context, req *provider.Request) error {
	ref, err := locate(req)
	if err != nil {
		return err
	}
	cs, err := a.p.client(ctx, ref.Cluster)
	if err != nil {
		return err
	}
	propagation := metav1.DeletePropagationForeground
	err = cs.AppsV1().Deployments(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil && !apierrors.IsNotFound(err) {
		return Classify("failed to delete deployment "+ref.Name, err)
	}
	return nil
}
