package stack

import (
	"github.com/picklr-io/eksstack/internal/config"
	"github.com/picklr-io/eksstack/internal/ir"
)

// Security holds the control plane and worker security groups.
type Security struct {
	ClusterGroup *ir.Resource
	NodeGroup    *ir.Resource
}

func allEgress() []any {
	return []any{
		map[string]any{
			"protocol":    "-1",
			"from_port":   0,
			"to_port":     0,
			"cidr_blocks": []any{anywhere},
		},
	}
}

func (st *Stack) declareSecurity(s *config.Settings, n *Network) *Security {
	sec := &Security{}

	sec.ClusterGroup = st.add("eks-cluster-sg", ir.KindSecurityGroup, map[string]any{
		"vpc_id":      ir.RefTo(n.VPC, "id"),
		"name":        "eks-cluster-sg",
		"description": "Security group for EKS cluster",
		"ingress": []any{
			map[string]any{
				"protocol":    "tcp",
				"from_port":   443,
				"to_port":     443,
				"cidr_blocks": []any{anywhere},
			},
		},
		"egress": allEgress(),
		"tags":   tags(s.Tagged(map[string]string{"Name": "eks-cluster-sg"})),
	})

	fromCluster := []any{ir.RefTo(sec.ClusterGroup, "id")}
	sec.NodeGroup = st.add("eks-node-sg", ir.KindSecurityGroup, map[string]any{
		"vpc_id":      ir.RefTo(n.VPC, "id"),
		"name":        "eks-node-sg",
		"description": "Security group for EKS worker nodes",
		"ingress": []any{
			map[string]any{
				"protocol":        "tcp",
				"from_port":       1025,
				"to_port":         65535,
				"security_groups": fromCluster,
			},
			map[string]any{
				"protocol":        "tcp",
				"from_port":       443,
				"to_port":         443,
				"security_groups": fromCluster,
			},
		},
		"egress": allEgress(),
		"tags":   tags(s.Tagged(map[string]string{"Name": "eks-node-sg"})),
	})

	return sec
}
