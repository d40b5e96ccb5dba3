package aws

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/picklr-io/eksstack/internal/provider"
)

type SecurityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpc_id"`
	Ingress     []SecurityGroupRule `json:"ingress"`
	Egress      []SecurityGroupRule `json:"egress"`
	Tags        map[string]string   `json:"tags"`
}

type SecurityGroupRule struct {
	FromPort       int32    `json:"from_port"`
	ToPort         int32    `json:"to_port"`
	Protocol       string   `json:"protocol"`
	CidrBlocks     []string `json:"cidr_blocks,omitempty"`
	SecurityGroups []string `json:"security_groups,omitempty"`
}

// key identifies a rule for diffing.
func (r SecurityGroupRule) key() string {
	cidrs := slices.Clone(r.CidrBlocks)
	groups := slices.Clone(r.SecurityGroups)
	slices.Sort(cidrs)
	slices.Sort(groups)
	return fmt.Sprintf("%s/%d-%d/%s/%s", r.Protocol, r.FromPort, r.ToPort, strings.Join(cidrs, ","), strings.Join(groups, ","))
}

func (r SecurityGroupRule) permission() types.IpPermission {
	perm := types.IpPermission{IpProtocol: aws.String(r.Protocol)}
	if r.Protocol != "-1" {
		perm.FromPort = aws.Int32(r.FromPort)
		perm.ToPort = aws.Int32(r.ToPort)
	}
	for _, cidr := range r.CidrBlocks {
		perm.IpRanges = append(perm.IpRanges, types.IpRange{CidrIp: aws.String(cidr)})
	}
	for _, group := range r.SecurityGroups {
		perm.UserIdGroupPairs = append(perm.UserIdGroupPairs, types.UserIdGroupPair{GroupId: aws.String(group)})
	}
	return perm
}

func permissions(rules []SecurityGroupRule) []types.IpPermission {
	out := make([]types.IpPermission, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.permission())
	}
	return out
}

// ruleDiff returns the rules of desired missing from old, and those of old no longer desired.
func ruleDiff(old, desired []SecurityGroupRule) (add, remove []SecurityGroupRule) {
	have := make(map[string]bool, len(old))
	for _, r := range old {
		have[r.key()] = true
	}
	want := make(map[string]bool, len(desired))
	for _, r := range desired {
		want[r.key()] = true
		if !have[r.key()] {
			add = append(add, r)
		}
	}
	for _, r := range old {
		if !want[r.key()] {
			remove = append(remove, r)
		}
	}
	return add, remove
}

type SecurityGroupState struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	VpcID string `json:"vpc_id"`
}

type securityGroupAdapter struct{ p *Provider }

func (a *securityGroupAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired SecurityGroupConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(desired.Name),
		Description:       aws.String(desired.Description),
		TagSpecifications: tagSpec(types.ResourceTypeSecurityGroup, desired.Tags),
	}
	if desired.VpcID != "" {
		input.VpcId = aws.String(desired.VpcID)
	}

	var groupID string
	resp, err := a.p.ec2.CreateSecurityGroup(ctx, input)
	switch {
	case err == nil:
		groupID = str(resp.GroupId)
	case isAlreadyExists(err):
		id, lookupErr := a.findByName(ctx, desired)
		if lookupErr != nil {
			return nil, classify("failed to create security group", err)
		}
		groupID = id
	default:
		return nil, classify("failed to create security group", err)
	}

	state := SecurityGroupState{ID: groupID, Name: desired.Name, VpcID: desired.VpcID}
	if err := a.p.retryStep(ctx, func(ctx context.Context) error {
		return a.authorize(ctx, groupID, desired.Ingress, desired.Egress)
	}); err != nil {
		return nil, unfinished(state, err)
	}
	return provider.Encode(state)
}

func (a *securityGroupAdapter) findByName(ctx context.Context, desired SecurityGroupConfig) (string, error) {
	filters := []types.Filter{{Name: aws.String("group-name"), Values: []string{desired.Name}}}
	if desired.VpcID != "" {
		filters = append(filters, types.Filter{Name: aws.String("vpc-id"), Values: []string{desired.VpcID}})
	}
	resp, err := a.p.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{Filters: filters})
	if err != nil {
		return "", err
	}
	if len(resp.SecurityGroups) == 0 {
		return "", fmt.Errorf("security group %s not found", desired.Name)
	}
	return str(resp.SecurityGroups[0].GroupId), nil
}

// authorize adds rules, ignoring the ones that already exist such as the
// default allow-all egress rule of a new group.
func (a *securityGroupAdapter) authorize(ctx context.Context, id string, ingress, egress []SecurityGroupRule) error {
	for _, r := range ingress {
		_, err := a.p.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(id),
			IpPermissions: []types.IpPermission{r.permission()},
		})
		if err != nil && !hasCode(err, "InvalidPermission.Duplicate") {
			return classify("failed to authorize ingress", err)
		}
	}
	for _, r := range egress {
		_, err := a.p.ec2.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       aws.String(id),
			IpPermissions: []types.IpPermission{r.permission()},
		})
		if err != nil && !hasCode(err, "InvalidPermission.Duplicate") {
			return classify("failed to authorize egress", err)
		}
	}
	return nil
}

func (a *securityGroupAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	resp, err := a.p.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe security group", err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, false, nil
	}
	sg := resp.SecurityGroups[0]
	attrs, err := provider.Encode(SecurityGroupState{ID: id, Name: str(sg.GroupName), VpcID: str(sg.VpcId)})
	return attrs, err == nil, err
}

func (a *securityGroupAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired, prior SecurityGroupConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	if err := provider.Decode(req.PriorInputs, &prior); err != nil {
		return nil, err
	}
	id := req.Prior.ID()

	addIn, removeIn := ruleDiff(prior.Ingress, desired.Ingress)
	addOut, removeOut := ruleDiff(prior.Egress, desired.Egress)

	if len(removeIn) > 0 {
		if _, err := a.p.ec2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       aws.String(id),
			IpPermissions: permissions(removeIn),
		}); err != nil && !hasCode(err, "InvalidPermission.NotFound") {
			return nil, classify("failed to revoke ingress", err)
		}
	}
	if len(removeOut) > 0 {
		if _, err := a.p.ec2.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
			GroupId:       aws.String(id),
			IpPermissions: permissions(removeOut),
		}); err != nil && !hasCode(err, "InvalidPermission.NotFound") {
			return nil, classify("failed to revoke egress", err)
		}
	}
	if err := a.authorize(ctx, id, addIn, addOut); err != nil {
		return nil, err
	}
	if err := a.p.syncEC2Tags(ctx, id, req, desired.Tags); err != nil {
		return nil, err
	}
	return req.Prior, nil
}

func (a *securityGroupAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	_, err := a.p.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
	if err != nil && !isNotFound(err) {
		return classify("failed to delete security group", err)
	}
	return nil
}
