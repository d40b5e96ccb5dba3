// Package stack declares the EKS environment as a set of resources with typed
// references between them. Nothing here talks to a provider.
package stack

import (
	"fmt"

	"github.com/picklr-io/eksstack/internal/config"
	"github.com/picklr-io/eksstack/internal/ir"
)

// Stack is the declared environment, grouped by component.
type Stack struct {
	Network     *Network
	IAM         *IAM
	Security    *Security
	Cluster     *Cluster
	Autoscaling ir.Option[*Autoscaling]

	resources []*ir.Resource
	outputs   map[string]ir.OutputSpec
}

// Build declares every resource of the environment described by s.
func Build(s *config.Settings) (*Stack, error) {
	if s == nil {
		return nil, fmt.Errorf("settings are required")
	}
	st := &Stack{outputs: make(map[string]ir.OutputSpec)}

	st.Network = st.declareNetwork(s)
	st.IAM = st.declareIAM(s)
	st.Security = st.declareSecurity(s, st.Network)
	st.Cluster = st.declareCluster(s, st.Network, st.IAM, st.Security)
	if s.EnableHPA {
		st.Autoscaling = ir.Some(st.declareAutoscaling(s, st.Cluster))
	} else {
		st.Autoscaling = ir.None[*Autoscaling]()
	}

	st.declareOutputs(s)
	return st, nil
}

// Config returns the declaration set in declaration order.
func (st *Stack) Config() *ir.Config {
	return &ir.Config{
		Resources: st.resources,
		Outputs:   st.outputs,
	}
}

func (st *Stack) add(name, kind string, props map[string]any, dependsOn ...*ir.Resource) *ir.Resource {
	res := &ir.Resource{
		Name:       name,
		Kind:       kind,
		Properties: props,
	}
	for _, d := range dependsOn {
		res.DependsOn = append(res.DependsOn, d.Name)
	}
	st.resources = append(st.resources, res)
	return res
}

func (st *Stack) declareOutputs(s *config.Settings) {
	net := st.Network
	st.outputs["vpc_id"] = ir.OutputRef(net.VPC, "id")
	st.outputs["vpc_cidr"] = ir.OutputRef(net.VPC, "cidr_block")
	for i, sn := range net.Public {
		st.outputs[fmt.Sprintf("public_subnet_%d_id", i+1)] = ir.OutputRef(sn, "id")
	}
	for i, sn := range net.Private {
		st.outputs[fmt.Sprintf("private_subnet_%d_id", i+1)] = ir.OutputRef(sn, "id")
	}

	c := st.Cluster
	st.outputs["cluster_name"] = ir.OutputRef(c.Cluster, "name")
	st.outputs["cluster_endpoint"] = ir.OutputRef(c.Cluster, "endpoint")
	st.outputs["cluster_version"] = ir.OutputRef(c.Cluster, "version")
	st.outputs["cluster_arn"] = ir.OutputRef(c.Cluster, "arn")
	st.outputs["node_group_id"] = ir.OutputRef(c.NodeGroup, "id")

	if as, ok := st.Autoscaling.Get(); ok {
		st.outputs["metrics_server_release"] = ir.OutputRef(as.MetricsServer, "id")
		st.outputs["deployment_name"] = ir.OutputRef(as.Deployment, "name")
		st.outputs["service_name"] = ir.OutputRef(as.Service, "name")
		st.outputs["hpa_name"] = ir.OutputRef(as.HPA, "name")
		st.outputs["hpa_min_replicas"] = ir.OutputValue(s.HPAMinReplicas)
		st.outputs["hpa_max_replicas"] = ir.OutputValue(s.HPAMaxReplicas)
		st.outputs["hpa_cpu_threshold"] = ir.OutputValue(s.HPACPUThreshold)
		st.outputs["hpa_memory_threshold"] = ir.OutputValue(s.HPAMemoryThreshold)
	}
}

// tags converts a tag map into property form.
func tags(t map[string]string) map[string]any {
	out := make(map[string]any, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func refs(res []*ir.Resource, attr string) []any {
	out := make([]any, 0, len(res))
	for _, r := range res {
		out = append(out, ir.RefTo(r, attr))
	}
	return out
}
