package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/picklr-io/eksstack/internal/provider"
)

// EKS Cluster

type EKSClusterConfig struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	RoleArn   string            `json:"role_arn"`
	VpcConfig EKSVpcConfig      `json:"vpc_config"`
	Tags      map[string]string `json:"tags"`
}

type EKSVpcConfig struct {
	SubnetIds             []string `json:"subnet_ids"`
	SecurityGroupIds      []string `json:"security_group_ids"`
	EndpointPublicAccess  bool     `json:"endpoint_public_access"`
	EndpointPrivateAccess bool     `json:"endpoint_private_access"`
}

type EKSClusterState struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	ARN                  string `json:"arn"`
	Endpoint             string `json:"endpoint"`
	Version              string `json:"version"`
	CertificateAuthority string `json:"certificate_authority"`
	Status               string `json:"status"`
	OIDCIssuer           string `json:"oidc_issuer,omitempty"`
}

func clusterAttrs(c *types.Cluster) (provider.Attributes, error) {
	if c == nil {
		return nil, fmt.Errorf("cluster not returned")
	}
	state := EKSClusterState{
		ID:       str(c.Name),
		Name:     str(c.Name),
		ARN:      str(c.Arn),
		Endpoint: str(c.Endpoint),
		Version:  str(c.Version),
		Status:   string(c.Status),
	}
	if c.CertificateAuthority != nil {
		state.CertificateAuthority = str(c.CertificateAuthority.Data)
	}
	if c.Identity != nil && c.Identity.Oidc != nil {
		state.OIDCIssuer = str(c.Identity.Oidc.Issuer)
	}
	return provider.Encode(state)
}

type clusterAdapter struct{ p *Provider }

func (a *clusterAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired EKSClusterConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	input := &eks.CreateClusterInput{
		Name:    aws.String(desired.Name),
		RoleArn: aws.String(desired.RoleArn),
		ResourcesVpcConfig: &types.VpcConfigRequest{
			SubnetIds:             desired.VpcConfig.SubnetIds,
			SecurityGroupIds:      desired.VpcConfig.SecurityGroupIds,
			EndpointPublicAccess:  aws.Bool(desired.VpcConfig.EndpointPublicAccess),
			EndpointPrivateAccess: aws.Bool(desired.VpcConfig.EndpointPrivateAccess),
		},
		Tags:               desired.Tags,
		ClientRequestToken: clientToken(req),
	}
	if desired.Version != "" {
		input.Version = aws.String(desired.Version)
	}

	if _, err := a.p.eks.CreateCluster(ctx, input); err != nil && !isAlreadyExists(err) {
		return nil, classify("failed to create EKS cluster", err)
	}
	return a.waitActive(ctx, desired.Name)
}

func (a *clusterAdapter) waitActive(ctx context.Context, name string) (provider.Attributes, error) {
	out, err := eks.NewClusterActiveWaiter(a.p.eks, func(o *eks.ClusterActiveWaiterOptions) {
		o.MinDelay = a.p.poll
	}).WaitForOutput(ctx, &eks.DescribeClusterInput{Name: aws.String(name)}, maxWait(ctx, 30*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("EKS cluster %s did not become active: %w", name, err)
	}
	return clusterAttrs(out.Cluster)
}

func (a *clusterAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	name := req.Prior.String("name")
	if name == "" {
		return nil, false, nil
	}
	resp, err := a.p.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe EKS cluster", err)
	}
	if resp.Cluster == nil || resp.Cluster.Status == types.ClusterStatusDeleting {
		return nil, false, nil
	}
	attrs, err := clusterAttrs(resp.Cluster)
	return attrs, err == nil, err
}

// Update upgrades the control plane version and endpoint access. EKS runs one
// update at a time, so each is followed by a wait for ACTIVE.
func (a *clusterAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired, prior EKSClusterConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	if err := provider.Decode(req.PriorInputs, &prior); err != nil {
		return nil, err
	}
	name := req.Prior.String("name")

	if desired.Version != "" && desired.Version != req.Prior.String("version") {
		if _, err := a.p.eks.UpdateClusterVersion(ctx, &eks.UpdateClusterVersionInput{
			Name:    aws.String(name),
			Version: aws.String(desired.Version),
		}); err != nil {
			return nil, classify("failed to update EKS cluster version", err)
		}
		if _, err := a.waitActive(ctx, name); err != nil {
			return nil, err
		}
	}

	if desired.VpcConfig.EndpointPublicAccess != prior.VpcConfig.EndpointPublicAccess ||
		desired.VpcConfig.EndpointPrivateAccess != prior.VpcConfig.EndpointPrivateAccess {
		if _, err := a.p.eks.UpdateClusterConfig(ctx, &eks.UpdateClusterConfigInput{
			Name: aws.String(name),
			ResourcesVpcConfig: &types.VpcConfigRequest{
				EndpointPublicAccess:  aws.Bool(desired.VpcConfig.EndpointPublicAccess),
				EndpointPrivateAccess: aws.Bool(desired.VpcConfig.EndpointPrivateAccess),
			},
		}); err != nil {
			return nil, classify("failed to update EKS cluster config", err)
		}
		if _, err := a.waitActive(ctx, name); err != nil {
			return nil, err
		}
	}

	if err := a.p.syncEKSTags(ctx, req.Prior.String("arn"), req, desired.Tags); err != nil {
		return nil, err
	}
	return a.waitActive(ctx, name)
}

func (a *clusterAdapter) Delete(ctx context.Context, req *provider.Request) error {
	name := req.Prior.String("name")
	if name == "" {
		return nil
	}
	_, err := a.p.eks.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: aws.String(name)})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return classify("failed to delete EKS cluster", err)
	}
	if err := eks.NewClusterDeletedWaiter(a.p.eks, func(o *eks.ClusterDeletedWaiterOptions) {
		o.MinDelay = a.p.poll
	}).Wait(ctx, &eks.DescribeClusterInput{Name: aws.String(name)}, maxWait(ctx, 30*time.Minute)); err != nil {
		return fmt.Errorf("EKS cluster %s was not deleted: %w", name, err)
	}
	return nil
}

// EKS Node Group

type EKSNodeGroupConfig struct {
	ClusterName   string            `json:"cluster_name"`
	NodeGroupName string            `json:"node_group_name"`
	NodeRoleArn   string            `json:"node_role_arn"`
	SubnetIds     []string          `json:"subnet_ids"`
	ScalingConfig EKSScalingConfig  `json:"scaling_config"`
	InstanceTypes []string          `json:"instance_types"`
	Tags          map[string]string `json:"tags"`
}

type EKSScalingConfig struct {
	DesiredSize int32 `json:"desired_size"`
	MinSize     int32 `json:"min_size"`
	MaxSize     int32 `json:"max_size"`
}

type EKSNodeGroupState struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	ARN         string `json:"arn"`
	Status      string `json:"status"`
}

func nodeGroupAttrs(ng *types.Nodegroup) (provider.Attributes, error) {
	if ng == nil {
		return nil, fmt.Errorf("node group not returned")
	}
	return provider.Encode(EKSNodeGroupState{
		ID:          str(ng.ClusterName) + ":" + str(ng.NodegroupName),
		Name:        str(ng.NodegroupName),
		ClusterName: str(ng.ClusterName),
		ARN:         str(ng.NodegroupArn),
		Status:      string(ng.Status),
	})
}

type nodeGroupAdapter struct{ p *Provider }

func (a *nodeGroupAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired EKSNodeGroupConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	_, err := a.p.eks.CreateNodegroup(ctx, &eks.CreateNodegroupInput{
		ClusterName:        aws.String(desired.ClusterName),
		NodegroupName:      aws.String(desired.NodeGroupName),
		NodeRole:           aws.String(desired.NodeRoleArn),
		Subnets:            desired.SubnetIds,
		ScalingConfig:      scalingConfig(desired.ScalingConfig),
		InstanceTypes:      desired.InstanceTypes,
		Tags:               desired.Tags,
		ClientRequestToken: clientToken(req),
	})
	if err != nil && !isAlreadyExists(err) {
		return nil, classify("failed to create EKS node group", err)
	}
	return a.waitActive(ctx, desired.ClusterName, desired.NodeGroupName)
}

func scalingConfig(c EKSScalingConfig) *types.NodegroupScalingConfig {
	return &types.NodegroupScalingConfig{
		DesiredSize: aws.Int32(c.DesiredSize),
		MinSize:     aws.Int32(c.MinSize),
		MaxSize:     aws.Int32(c.MaxSize),
	}
}

func (a *nodeGroupAdapter) waitActive(ctx context.Context, cluster, name string) (provider.Attributes, error) {
	out, err := eks.NewNodegroupActiveWaiter(a.p.eks, func(o *eks.NodegroupActiveWaiterOptions) {
		o.MinDelay = a.p.poll
	}).WaitForOutput(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   aws.String(cluster),
		NodegroupName: aws.String(name),
	}, maxWait(ctx, 30*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("EKS node group %s did not become active: %w", name, err)
	}
	return nodeGroupAttrs(out.Nodegroup)
}

func (a *nodeGroupAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	cluster, name := req.Prior.String("cluster_name"), req.Prior.String("name")
	if cluster == "" || name == "" {
		return nil, false, nil
	}
	resp, err := a.p.eks.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   aws.String(cluster),
		NodegroupName: aws.String(name),
	})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe EKS node group", err)
	}
	if resp.Nodegroup == nil || resp.Nodegroup.Status == types.NodegroupStatusDeleting {
		return nil, false, nil
	}
	attrs, err := nodeGroupAttrs(resp.Nodegroup)
	return attrs, err == nil, err
}

func (a *nodeGroupAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired, prior EKSNodeGroupConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	if err := provider.Decode(req.PriorInputs, &prior); err != nil {
		return nil, err
	}
	cluster, name := req.Prior.String("cluster_name"), req.Prior.String("name")

	if desired.ScalingConfig != prior.ScalingConfig {
		if _, err := a.p.eks.UpdateNodegroupConfig(ctx, &eks.UpdateNodegroupConfigInput{
			ClusterName:   aws.String(cluster),
			NodegroupName: aws.String(name),
			ScalingConfig: scalingConfig(desired.ScalingConfig),
		}); err != nil {
			return nil, classify("failed to update EKS node group scaling", err)
		}
	}
	if err := a.p.syncEKSTags(ctx, req.Prior.String("arn"), req, desired.Tags); err != nil {
		return nil, err
	}
	return a.waitActive(ctx, cluster, name)
}

func (a *nodeGroupAdapter) Delete(ctx context.Context, req *provider.Request) error {
	cluster, name := req.Prior.String("cluster_name"), req.Prior.String("name")
	if cluster == "" || name == "" {
		return nil
	}
	input := &eks.DescribeNodegroupInput{ClusterName: aws.String(cluster), NodegroupName: aws.String(name)}
	_, err := a.p.eks.DeleteNodegroup(ctx, &eks.DeleteNodegroupInput{ClusterName: input.ClusterName, NodegroupName: input.NodegroupName})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return classify("failed to delete EKS node group", err)
	}
	if err := eks.NewNodegroupDeletedWaiter(a.p.eks, func(o *eks.NodegroupDeletedWaiterOptions) {
		o.MinDelay = a.p.poll
	}).Wait(ctx, input, maxWait(ctx, 30*time.Minute)); err != nil {
		return fmt.Errorf("EKS node group %s was not deleted: %w", name, err)
	}
	return nil
}

func (p *Provider) syncEKSTags(ctx context.Context, arn string, req *provider.Request, desired map[string]string) error {
	if arn == "" {
		return nil
	}
	set, remove := tagDiff(priorInputTags(req), desired)
	if len(set) > 0 {
		if _, err := p.eks.TagResource(ctx, &eks.TagResourceInput{ResourceArn: aws.String(arn), Tags: set}); err != nil {
			return classify("failed to tag "+arn, err)
		}
	}
	if len(remove) > 0 {
		if _, err := p.eks.UntagResource(ctx, &eks.UntagResourceInput{ResourceArn: aws.String(arn), TagKeys: remove}); err != nil {
			return classify("failed to untag "+arn, err)
		}
	}
	return nil
}
