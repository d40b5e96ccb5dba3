package stack

import (
	"github.com/picklr-io/eksstack/internal/config"
	"github.com/picklr-io/eksstack/internal/ir"
)

// Cluster holds the EKS control plane and its managed node group.
type Cluster struct {
	Cluster   *ir.Resource
	NodeGroup *ir.Resource
}

func (st *Stack) declareCluster(s *config.Settings, n *Network, iam *IAM, sec *Security) *Cluster {
	c := &Cluster{}

	subnets := append(refs(n.Public, "id"), refs(n.Private, "id")...)
	c.Cluster = st.add(s.ClusterName, ir.KindCluster, map[string]any{
		"name":     s.ClusterName,
		"version":  s.ClusterVersion,
		"role_arn": ir.RefTo(iam.ClusterRole, "arn"),
		"vpc_config": map[string]any{
			"subnet_ids":              subnets,
			"security_group_ids":      []any{ir.RefTo(sec.ClusterGroup, "id")},
			"endpoint_private_access": true,
			"endpoint_public_access":  true,
		},
		"tags": tags(s.Tagged(map[string]string{"Name": s.ClusterName})),
	}, iam.ClusterAttachments...)

	c.NodeGroup = st.add(s.NodeGroupName, ir.KindNodeGroup, map[string]any{
		"cluster_name":    ir.RefTo(c.Cluster, "name"),
		"node_group_name": s.NodeGroupName,
		"node_role_arn":   ir.RefTo(iam.NodeRole, "arn"),
		"subnet_ids":      refs(n.Private, "id"),
		"scaling_config": map[string]any{
			"desired_size": s.NodeDesiredCount,
			"min_size":     s.NodeMinCount,
			"max_size":     s.NodeMaxCount,
		},
		"instance_types": []any{s.NodeInstanceType},
		"tags":           tags(s.Tagged(map[string]string{"Name": s.NodeGroupName})),
	}, iam.NodeAttachments...)

	return c
}

// connection is the cluster access block every in-cluster resource carries.
func (c *Cluster) connection() map[string]any {
	return map[string]any{
		"name":                  ir.RefTo(c.Cluster, "name"),
		"endpoint":              ir.RefTo(c.Cluster, "endpoint"),
		"certificate_authority": ir.RefTo(c.Cluster, "certificate_authority"),
	}
}
