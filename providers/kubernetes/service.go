package kubernetes

import (
	"context"
	"fmt"

	"github.com/picklr-io/eksstack/internal/provider"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	k8s "k8s.io/client-go/kubernetes"
)

type ServiceConfig struct {
	Cluster   Connection          `json:"cluster"`
	Namespace string              `json:"namespace"`
	Name      string              `json:"name"`
	Labels    map[string]string   `json:"labels"`
	Selector  map[string]string   `json:"selector"`
	Type      string              `json:"type"`
	Ports     []ServicePortConfig `json:"ports"`
}

type ServicePortConfig struct {
	Name       string `json:"name,omitempty"`
	Port       int32  `json:"port"`
	TargetPort int32  `json:"target_port"`
	Protocol   string `json:"protocol,omitempty"`
}

func (c ServiceConfig) object() *corev1.Service {
	svcType := corev1.ServiceType(c.Type)
	if svcType == "" {
		svcType = corev1.ServiceTypeClusterIP
	}
	ports := make([]corev1.ServicePort, 0, len(c.Ports))
	for i, p := range c.Ports {
		port := corev1.ServicePort{
			Name:       p.Name,
			Port:       p.Port,
			TargetPort: intstr.FromInt32(p.TargetPort),
			Protocol:   corev1.Protocol(p.Protocol),
		}
		if port.Protocol == "" {
			port.Protocol = corev1.ProtocolTCP
		}
		if port.TargetPort.IntVal == 0 {
			port.TargetPort = intstr.FromInt32(p.Port)
		}
		if port.Name == "" && len(c.Ports) > 1 {
			port.Name = fmt.Sprintf("port-%d", i)
		}
		ports = append(ports, port)
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: namespaceOrDefault(c.Namespace),
			Labels:    c.Labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     svcType,
			Selector: c.Selector,
			Ports:    ports,
		},
	}
}

type ServiceState struct {
	ObjectState
	Type      string `json:"type"`
	ClusterIP string `json:"cluster_ip"`
	// Hostname is the load balancer address once AWS has provisioned it.
	Hostname string `json:"hostname"`
}

func serviceAttrs(s *corev1.Service) (provider.Attributes, error) {
	state := ServiceState{
		ObjectState: objectState(s),
		Type:        string(s.Spec.Type),
		ClusterIP:   s.Spec.ClusterIP,
	}
	for _, ing := range s.Status.LoadBalancer.Ingress {
		if ing.Hostname != "" {
			state.Hostname = ing.Hostname
			break
		}
		if ing.IP != "" {
			state.Hostname = ing.IP
			break
		}
	}
	return provider.Encode(state)
}

type serviceAdapter struct{ p *Provider }

func (a *serviceAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired ServiceConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	cs, err := a.p.client(ctx, desired.Cluster)
	if err != nil {
		return nil, err
	}
	obj := desired.object()
	created, err := cs.CoreV1().Services(obj.Namespace).Create(ctx, obj, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return a.apply(ctx, cs, obj)
	}
	if err != nil {
		return nil, Classify("failed to create service "+obj.Name, err)
	}
	return serviceAttrs(created)
}

// apply moves the live service to obj. The cluster IP and allocated node
// ports are kept; changing them would break existing clients.
func (a *serviceAdapter) apply(ctx context.Context, cs k8s.Interface, obj *corev1.Service) (provider.Attributes, error) {
	client := cs.CoreV1().Services(obj.Namespace)
	live, err := client.Get(ctx, obj.Name, metav1.GetOptions{})
	if err != nil {
		return nil, Classify("failed to get service "+obj.Name, err)
	}

	nodePorts := make(map[int32]int32, len(live.Spec.Ports))
	for _, p := range live.Spec.Ports {
		nodePorts[p.Port] = p.NodePort
	}
	ports := obj.Spec.Ports
	if obj.Spec.Type != corev1.ServiceTypeClusterIP {
		for i := range ports {
			ports[i].NodePort = nodePorts[ports[i].Port]
		}
	}

	live.Labels = obj.Labels
	live.Spec.Type = obj.Spec.Type
	live.Spec.Selector = obj.Spec.Selector
	live.Spec.Ports = ports
	updated, err := client.Update(ctx, live, metav1.UpdateOptions{})
	if err != nil {
		return nil, Classify("failed to update service "+obj.Name, err)
	}
	return serviceAttrs(updated)
}

func (a *serviceAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	ref, err := locate(req)
	if err != nil {
		return nil, false, err
	}
	cs, err := a.p.client(ctx, ref.Cluster)
	if err != nil {
		return nil, false, err
	}
	svc, err := cs.CoreV1().Services(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Classify("failed to get service "+ref.Name, err)
	}
	attrs, err := serviceAttrs(svc)
	return attrs, err == nil, err
}

func (a *serviceAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired ServiceConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	cs, err := a.p.client(ctx, desired.Cluster)
	if err != nil {
		return nil, err
	}
	return a.apply(ctx, cs, desired.object())
}

// Delete removes the service. AWS releases the load balancer asynchronously.
func (a *serviceAdapter) Delete(ctx context.Context, req *provider.Request) error {
	ref, err := locate(req)
	if err != nil {
		return err
	}
	cs, err := a.p.client(ctx, ref.Cluster)
	if err != nil {
		return err
	}
	err = cs.CoreV1().Services(ref.Namespace).Delete(ctx, ref.Name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return Classify("failed to delete service "+ref.Name, err)
	}
	return nil
}
