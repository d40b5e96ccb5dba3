package stack

import (
	"encoding/json"

	"github.com/picklr-io/eksstack/internal/config"
	"github.com/picklr-io/eksstack/internal/ir"
)

const (
	policyEKSCluster       = "arn:aws:iam::aws:policy/AmazonEKSClusterPolicy"
	policyEKSVPCController = "arn:aws:iam::aws:policy/AmazonEKSVPCResourceController"
	policyEKSWorkerNode    = "arn:aws:iam::aws:policy/AmazonEKSWorkerNodePolicy"
	policyEKSCNI           = "arn:aws:iam::aws:policy/AmazonEKS_CNI_Policy"
	policyECRReadOnly      = "arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly"
	servicePrincipalEKS    = "eks.amazonaws.com"
	servicePrincipalEC2    = "ec2.amazonaws.com"
)

// IAM holds the cluster and node roles and their managed policy attachments.
type IAM struct {
	ClusterRole        *ir.Resource
	ClusterAttachments []*ir.Resource
	NodeRole           *ir.Resource
	NodeAttachments    []*ir.Resource
}

func (st *Stack) declareIAM(s *config.Settings) *IAM {
	iam := &IAM{}

	iam.ClusterRole = st.add(s.ClusterRoleName, ir.KindRole, map[string]any{
		"name":               s.ClusterRoleName,
		"assume_role_policy": assumeRolePolicy(servicePrincipalEKS),
		"tags":               tags(s.Tagged(map[string]string{"Name": s.ClusterRoleName})),
	})
	iam.ClusterAttachments = []*ir.Resource{
		st.attachPolicy("eks-cluster-policy", iam.ClusterRole, policyEKSCluster),
		st.attachPolicy("eks-cluster-vpc-policy", iam.ClusterRole, policyEKSVPCController),
	}

	iam.NodeRole = st.add(s.NodeRoleName, ir.KindRole, map[string]any{
		"name":               s.NodeRoleName,
		"assume_role_policy": assumeRolePolicy(servicePrincipalEC2),
		"tags":               tags(s.Tagged(map[string]string{"Name": s.NodeRoleName})),
	})
	iam.NodeAttachments = []*ir.Resource{
		st.attachPolicy("eks-node-policy", iam.NodeRole, policyEKSWorkerNode),
		st.attachPolicy("eks-cni-policy", iam.NodeRole, policyEKSCNI),
		st.attachPolicy("eks-registry-policy", iam.NodeRole, policyECRReadOnly),
	}

	return iam
}

func (st *Stack) attachPolicy(name string, role *ir.Resource, policyARN string) *ir.Resource {
	return st.add(name, ir.KindRolePolicyAttachment, map[string]any{
		"role":       ir.RefTo(role, "name"),
		"policy_arn": policyARN,
	})
}

// assumeRolePolicy renders the trust policy letting service assume a role.
func assumeRolePolicy(service string) string {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{
			map[string]any{
				"Action":    "sts:AssumeRole",
				"Effect":    "Allow",
				"Principal": map[string]any{"Service": service},
			},
		},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}
