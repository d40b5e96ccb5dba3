package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code + " from fake"}
}

// fakeEC2 implements the calls the tests exercise; the embedded interface
// panics on anything else.
type fakeEC2 struct {
	EC2API

	mu          sync.Mutex
	calls       []string
	vpcs        map[string]ec2types.Vpc
	nats        map[string][]ec2types.NatGatewayState
	groups      map[string]ec2types.SecurityGroup
	ingress     []ec2types.IpPermission
	egress      []ec2types.IpPermission
	revokedIn   []ec2types.IpPermission
	routes      map[string]string
	routeErrs   []error // returned by CreateRoute in order before it succeeds
	tables      map[string]string
	createSGErr error
	serial      int
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{
		vpcs:   map[string]ec2types.Vpc{},
		nats:   map[string][]ec2types.NatGatewayState{},
		groups: map[string]ec2types.SecurityGroup{},
		routes: map[string]string{},
		tables: map[string]string{},
	}
}

func (f *fakeEC2) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEC2) nextID(prefix string) string {
	f.serial++
	return fmt.Sprintf("%s-%04d", prefix, f.serial)
}

func (f *fakeEC2) CreateVpc(_ context.Context, in *ec2.CreateVpcInput, _ ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	f.record("CreateVpc")
	vpc := ec2types.Vpc{VpcId: aws.String(f.nextID("vpc")), CidrBlock: in.CidrBlock, State: ec2types.VpcStatePending}
	f.vpcs[*vpc.VpcId] = vpc
	return &ec2.CreateVpcOutput{Vpc: &vpc}, nil
}

// DescribeVpcs reports every VPC as available.
func (f *fakeEC2) DescribeVpcs(_ context.Context, in *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	f.record("DescribeVpcs")
	var out []ec2types.Vpc
	for _, id := range in.VpcIds {
		vpc, ok := f.vpcs[id]
		if !ok {
			return nil, apiError("InvalidVpcID.NotFound")
		}
		vpc.State = ec2types.VpcStateAvailable
		out = append(out, vpc)
	}
	return &ec2.DescribeVpcsOutput{Vpcs: out}, nil
}

func (f *fakeEC2) ModifyVpcAttribute(_ context.Context, in *ec2.ModifyVpcAttributeInput, _ ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error) {
	switch {
	case in.EnableDnsSupport != nil:
		f.record(fmt.Sprintf("ModifyVpcAttribute:dns_support=%t", *in.EnableDnsSupport.Value))
	case in.EnableDnsHostnames != nil:
		f.record(fmt.Sprintf("ModifyVpcAttribute:dns_hostnames=%t", *in.EnableDnsHostnames.Value))
	}
	return &ec2.ModifyVpcAttributeOutput{}, nil
}

func (f *fakeEC2) DeleteVpc(_ context.Context, in *ec2.DeleteVpcInput, _ ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	f.record("DeleteVpc")
	if _, ok := f.vpcs[*in.VpcId]; !ok {
		return nil, apiError("InvalidVpcID.NotFound")
	}
	delete(f.vpcs, *in.VpcId)
	return &ec2.DeleteVpcOutput{}, nil
}

func (f *fakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	for _, t := range in.Tags {
		f.record("CreateTags:" + *t.Key + "=" + *t.Value)
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) DeleteTags(_ context.Context, in *ec2.DeleteTagsInput, _ ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error) {
	for _, t := range in.Tags {
		f.record("DeleteTags:" + *t.Key)
	}
	return &ec2.DeleteTagsOutput{}, nil
}

func (f *fakeEC2) CreateNatGateway(_ context.Context, in *ec2.CreateNatGatewayInput, _ ...func(*ec2.Options)) (*ec2.CreateNatGatewayOutput, error) {
	f.record("CreateNatGateway")
	id := f.nextID("nat")
	f.nats[id] = []ec2types.NatGatewayState{ec2types.NatGatewayStatePending, ec2types.NatGatewayStateAvailable}
	return &ec2.CreateNatGatewayOutput{NatGateway: &ec2types.NatGateway{NatGatewayId: aws.String(id), SubnetId: in.SubnetId}}, nil
}

// DescribeNatGateways walks each gateway through its scripted states.
func (f *fakeEC2) DescribeNatGateways(_ context.Context, in *ec2.DescribeNatGatewaysInput, _ ...func(*ec2.Options)) (*ec2.DescribeNatGatewaysOutput, error) {
	f.record("DescribeNatGateways")
	id := in.NatGatewayIds[0]
	states, ok := f.nats[id]
	if !ok {
		return nil, apiError("NatGatewayNotFound")
	}
	state := states[0]
	if len(states) > 1 {
		f.nats[id] = states[1:]
	}
	return &ec2.DescribeNatGatewaysOutput{NatGateways: []ec2types.NatGateway{{
		NatGatewayId: aws.String(id),
		SubnetId:     aws.String("subnet-1"),
		State:        state,
		NatGatewayAddresses: []ec2types.NatGatewayAddress{
			{AllocationId: aws.String("eipalloc-1"), PublicIp: aws.String("203.0.113.10")},
		},
	}}}, nil
}

func (f *fakeEC2) DeleteNatGateway(_ context.Context, in *ec2.DeleteNatGatewayInput, _ ...func(*ec2.Options)) (*ec2.DeleteNatGatewayOutput, error) {
	f.record("DeleteNatGateway")
	if _, ok := f.nats[*in.NatGatewayId]; !ok {
		return nil, apiError("NatGatewayNotFound")
	}
	f.nats[*in.NatGatewayId] = []ec2types.NatGatewayState{ec2types.NatGatewayStateDeleting, ec2types.NatGatewayStateDeleted}
	return &ec2.DeleteNatGatewayOutput{}, nil
}

func (f *fakeEC2) CreateSecurityGroup(_ context.Context, in *ec2.CreateSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	f.record("CreateSecurityGroup")
	if f.createSGErr != nil {
		return nil, f.createSGErr
	}
	id := f.nextID("sg")
	f.groups[id] = ec2types.SecurityGroup{GroupId: aws.String(id), GroupName: in.GroupName, VpcId: in.VpcId}
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *fakeEC2) DescribeSecurityGroups(_ context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.record("DescribeSecurityGroups")
	var out []ec2types.SecurityGroup
	for _, sg := range f.groups {
		if len(in.GroupIds) > 0 && in.GroupIds[0] != *sg.GroupId {
			continue
		}
		out = append(out, sg)
	}
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: out}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.ingress = append(f.ingress, in.IpPermissions...)
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

// AuthorizeSecurityGroupEgress rejects the allow-all rule a new group already has.
func (f *fakeEC2) AuthorizeSecurityGroupEgress(_ context.Context, in *ec2.AuthorizeSecurityGroupEgressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupEgressOutput, error) {
	for _, perm := range in.IpPermissions {
		if aws.ToString(perm.IpProtocol) == "-1" {
			return nil, apiError("InvalidPermission.Duplicate")
		}
	}
	f.egress = append(f.egress, in.IpPermissions...)
	return &ec2.AuthorizeSecurityGroupEgressOutput{}, nil
}

func (f *fakeEC2) RevokeSecurityGroupIngress(_ context.Context, in *ec2.RevokeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error) {
	f.revokedIn = append(f.revokedIn, in.IpPermissions...)
	return &ec2.RevokeSecurityGroupIngressOutput{}, nil
}

// CreateRouteTable returns the table made earlier under the same client token.
func (f *fakeEC2) CreateRouteTable(_ context.Context, in *ec2.CreateRouteTableInput, _ ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error) {
	f.record("CreateRouteTable")
	token := aws.ToString(in.ClientToken)
	id, ok := f.tables[token]
	if !ok || token == "" {
		id = f.nextID("rtb")
		f.tables[token] = id
	}
	return &ec2.CreateRouteTableOutput{RouteTable: &ec2types.RouteTable{RouteTableId: aws.String(id), VpcId: in.VpcId}}, nil
}

func (f *fakeEC2) CreateRoute(_ context.Context, in *ec2.CreateRouteInput, _ ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error) {
	f.record("CreateRoute:" + *in.DestinationCidrBlock)
	if len(f.routeErrs) > 0 {
		err := f.routeErrs[0]
		f.routeErrs = f.routeErrs[1:]
		return nil, err
	}
	f.routes[*in.DestinationCidrBlock] = aws.ToString(in.GatewayId) + aws.ToString(in.NatGatewayId)
	return &ec2.CreateRouteOutput{}, nil
}

func (f *fakeEC2) ReplaceRoute(_ context.Context, in *ec2.ReplaceRouteInput, _ ...func(*ec2.Options)) (*ec2.ReplaceRouteOutput, error) {
	f.record("ReplaceRoute:" + *in.DestinationCidrBlock)
	f.routes[*in.DestinationCidrBlock] = aws.ToString(in.GatewayId) + aws.ToString(in.NatGatewayId)
	return &ec2.ReplaceRouteOutput{}, nil
}

func (f *fakeEC2) DeleteRoute(_ context.Context, in *ec2.DeleteRouteInput, _ ...func(*ec2.Options)) (*ec2.DeleteRouteOutput, error) {
	f.record("DeleteRoute:" + *in.DestinationCidrBlock)
	delete(f.routes, *in.DestinationCidrBlock)
	return &ec2.DeleteRouteOutput{}, nil
}

type fakeIAM struct {
	IAMAPI

	roles    map[string]iamtypes.Role
	attached map[string][]string
	pageSize int
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{roles: map[string]iamtypes.Role{}, attached: map[string][]string{}, pageSize: 1}
}

func (f *fakeIAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	name := *in.RoleName
	if _, ok := f.roles[name]; ok {
		return nil, apiError("EntityAlreadyExists")
	}
	role := iamtypes.Role{
		RoleName: aws.String(name),
		RoleId:   aws.String("AROA" + name),
		Arn:      aws.String("arn:aws:iam::123456789012:role/" + name),
	}
	f.roles[name] = role
	return &iam.CreateRoleOutput{Role: &role}, nil
}

func (f *fakeIAM) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	role, ok := f.roles[*in.RoleName]
	if !ok {
		return nil, apiError("NoSuchEntity")
	}
	return &iam.GetRoleOutput{Role: &role}, nil
}

func (f *fakeIAM) DeleteRole(_ context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	if _, ok := f.roles[*in.RoleName]; !ok {
		return nil, apiError("NoSuchEntity")
	}
	if len(f.attached[*in.RoleName]) > 0 {
		return nil, apiError("DeleteConflict")
	}
	delete(f.roles, *in.RoleName)
	return &iam.DeleteRoleOutput{}, nil
}

func (f *fakeIAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.attached[*in.RoleName] = append(f.attached[*in.RoleName], *in.PolicyArn)
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(_ context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	policies := f.attached[*in.RoleName]
	for i, arn := range policies {
		if arn == *in.PolicyArn {
			f.attached[*in.RoleName] = append(policies[:i], policies[i+1:]...)
			return &iam.DetachRolePolicyOutput{}, nil
		}
	}
	return nil, apiError("NoSuchEntity")
}

// ListAttachedRolePolicies pages through attachments pageSize at a time.
func (f *fakeIAM) ListAttachedRolePolicies(_ context.Context, in *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	policies := f.attached[*in.RoleName]
	start := 0
	if in.Marker != nil {
		fmt.Sscanf(*in.Marker, "%d", &start)
	}
	end := min(start+f.pageSize, len(policies))
	out := &iam.ListAttachedRolePoliciesOutput{}
	for _, arn := range policies[start:end] {
		out.AttachedPolicies = append(out.AttachedPolicies, iamtypes.AttachedPolicy{PolicyArn: aws.String(arn)})
	}
	if end < len(policies) {
		out.IsTruncated = true
		out.Marker = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

type fakeEKS struct {
	EKSAPI

	clusterStatuses []ekstypes.ClusterStatus
	created         *eks.CreateClusterInput
	deleted         bool
	describes       int
	versionUpdates  []string
	tagged          map[string]string
}

func (f *fakeEKS) CreateCluster(_ context.Context, in *eks.CreateClusterInput, _ ...func(*eks.Options)) (*eks.CreateClusterOutput, error) {
	if f.created != nil {
		return nil, apiError("ResourceInUseException")
	}
	f.created = in
	return &eks.CreateClusterOutput{Cluster: &ekstypes.Cluster{Name: in.Name}}, nil
}

func (f *fakeEKS) DescribeCluster(_ context.Context, in *eks.DescribeClusterInput, _ ...func(*eks.Options)) (*eks.DescribeClusterOutput, error) {
	f.describes++
	if f.created == nil || f.deleted {
		return nil, &ekstypes.ResourceNotFoundException{Message: aws.String("cluster not found")}
	}
	status := f.clusterStatuses[0]
	if len(f.clusterStatuses) > 1 {
		f.clusterStatuses = f.clusterStatuses[1:]
	}
	version := aws.ToString(f.created.Version)
	if n := len(f.versionUpdates); n > 0 {
		version = f.versionUpdates[n-1]
	}
	return &eks.DescribeClusterOutput{Cluster: &ekstypes.Cluster{
		Name:                 in.Name,
		Arn:                  aws.String("arn:aws:eks:us-east-1:123456789012:cluster/" + *in.Name),
		Endpoint:             aws.String("https://ABC.gr7.us-east-1.eks.amazonaws.com"),
		Version:              aws.String(version),
		Status:               status,
		CertificateAuthority: &ekstypes.Certificate{Data: aws.String("Y2VydA==")},
	}}, nil
}

func (f *fakeEKS) UpdateClusterVersion(_ context.Context, in *eks.UpdateClusterVersionInput, _ ...func(*eks.Options)) (*eks.UpdateClusterVersionOutput, error) {
	f.versionUpdates = append(f.versionUpdates, *in.Version)
	return &eks.UpdateClusterVersionOutput{}, nil
}

func (f *fakeEKS) TagResource(_ context.Context, in *eks.TagResourceInput, _ ...func(*eks.Options)) (*eks.TagResourceOutput, error) {
	if f.tagged == nil {
		f.tagged = map[string]string{}
	}
	for k, v := range in.Tags {
		f.tagged[k] = v
	}
	return &eks.TagResourceOutput{}, nil
}

func (f *fakeEKS) DeleteCluster(_ context.Context, _ *eks.DeleteClusterInput, _ ...func(*eks.Options)) (*eks.DeleteClusterOutput, error) {
	if f.created == nil || f.deleted {
		return nil, &ekstypes.ResourceNotFoundException{Message: aws.String("cluster not found")}
	}
	f.deleted = true
	return &eks.DeleteClusterOutput{}, nil
}

type fakePresigner struct {
	clientOptions int
}

func (f *fakePresigner) PresignGetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, optFns ...func(*sts.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := sts.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.clientOptions = len(opts.ClientOptions)
	return &v4.PresignedHTTPRequest{
		URL:    "https://sts.us-east-1.amazonaws.com/?Action=GetCallerIdentity&Version=2011-06-15",
		Method: "GET",
	}, nil
}
