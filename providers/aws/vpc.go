package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/picklr-io/eksstack/internal/provider"
)

type VpcConfig struct {
	CidrBlock          string            `json:"cidr_block"`
	EnableDNSHostnames bool              `json:"enable_dns_hostnames"`
	EnableDNSSupport   bool              `json:"enable_dns_support"`
	Tags               map[string]string `json:"tags"`
}

type VpcState struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidr_block"`
	State     string `json:"state"`
}

type vpcAdapter struct{ p *Provider }

func (a *vpcAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired VpcConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	resp, err := a.p.ec2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(desired.CidrBlock),
		TagSpecifications: tagSpec(types.ResourceTypeVpc, desired.Tags),
	})
	if err != nil {
		return nil, classify("failed to create VPC", err)
	}
	id := str(resp.Vpc.VpcId)

	state := VpcState{ID: id, CidrBlock: str(resp.Vpc.CidrBlock), State: string(resp.Vpc.State)}

	if err := ec2.NewVpcAvailableWaiter(a.p.ec2, func(o *ec2.VpcAvailableWaiterOptions) {
		o.MinDelay = a.p.poll
	}).Wait(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}}, maxWait(ctx, 5*time.Minute)); err != nil {
		return nil, unfinished(state, fmt.Errorf("VPC %s did not become available: %w", id, err))
	}
	state.State = "available"

	if err := a.p.retryStep(ctx, func(ctx context.Context) error {
		return a.setDNS(ctx, id, desired)
	}); err != nil {
		return nil, unfinished(state, err)
	}
	return provider.Encode(state)
}

// setDNS applies the DNS attributes; EC2 accepts one attribute per call.
func (a *vpcAdapter) setDNS(ctx context.Context, id string, desired VpcConfig) error {
	if _, err := a.p.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:            aws.String(id),
		EnableDnsSupport: &types.AttributeBooleanValue{Value: aws.Bool(desired.EnableDNSSupport)},
	}); err != nil {
		return classify("failed to set DNS support", err)
	}
	if _, err := a.p.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              aws.String(id),
		EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(desired.EnableDNSHostnames)},
	}); err != nil {
		return classify("failed to set DNS hostnames", err)
	}
	return nil
}

func (a *vpcAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	resp, err := a.p.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe VPC", err)
	}
	if len(resp.Vpcs) == 0 {
		return nil, false, nil
	}
	vpc := resp.Vpcs[0]
	attrs, err := provider.Encode(VpcState{ID: id, CidrBlock: str(vpc.CidrBlock), State: string(vpc.State)})
	return attrs, err == nil, err
}

func (a *vpcAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired VpcConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	id := req.Prior.ID()
	if err := a.setDNS(ctx, id, desired); err != nil {
		return nil, err
	}
	if err := a.p.syncEC2Tags(ctx, id, req, desired.Tags); err != nil {
		return nil, err
	}
	return req.Prior, nil
}

func (a *vpcAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	_, err := a.p.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(id)})
	if err != nil && !isNotFound(err) {
		return classify("failed to delete VPC", err)
	}
	return nil
}

type SubnetConfig struct {
	VpcID               string            `json:"vpc_id"`
	CidrBlock           string            `json:"cidr_block"`
	AvailabilityZone    string            `json:"availability_zone"`
	MapPublicIPOnLaunch bool              `json:"map_public_ip_on_launch"`
	Tags                map[string]string `json:"tags"`
}

type SubnetState struct {
	ID               string `json:"id"`
	VpcID            string `json:"vpc_id"`
	CidrBlock        string `json:"cidr_block"`
	AvailabilityZone string `json:"availability_zone"`
}

type subnetAdapter struct{ p *Provider }

func (a *subnetAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired SubnetConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	input := &ec2.CreateSubnetInput{
		VpcId:             aws.String(desired.VpcID),
		CidrBlock:         aws.String(desired.CidrBlock),
		TagSpecifications: tagSpec(types.ResourceTypeSubnet, desired.Tags),
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = aws.String(desired.AvailabilityZone)
	}

	resp, err := a.p.ec2.CreateSubnet(ctx, input)
	if err != nil {
		return nil, classify("failed to create subnet", err)
	}
	state := SubnetState{
		ID:               str(resp.Subnet.SubnetId),
		VpcID:            str(resp.Subnet.VpcId),
		CidrBlock:        str(resp.Subnet.CidrBlock),
		AvailabilityZone: str(resp.Subnet.AvailabilityZone),
	}

	if err := a.p.retryStep(ctx, func(ctx context.Context) error {
		return a.setPublicIP(ctx, state.ID, desired.MapPublicIPOnLaunch)
	}); err != nil {
		return nil, unfinished(state, err)
	}
	return provider.Encode(state)
}

func (a *subnetAdapter) setPublicIP(ctx context.Context, id string, enabled bool) error {
	if _, err := a.p.ec2.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
		SubnetId:            aws.String(id),
		MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(enabled)},
	}); err != nil {
		return classify("failed to set map_public_ip_on_launch", err)
	}
	return nil
}

func (a *subnetAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	resp, err := a.p.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe subnet", err)
	}
	if len(resp.Subnets) == 0 {
		return nil, false, nil
	}
	sn := resp.Subnets[0]
	attrs, err := provider.Encode(SubnetState{
		ID:               id,
		VpcID:            str(sn.VpcId),
		CidrBlock:        str(sn.CidrBlock),
		AvailabilityZone: str(sn.AvailabilityZone),
	})
	return attrs, err == nil, err
}

func (a *subnetAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired SubnetConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	id := req.Prior.ID()
	if err := a.setPublicIP(ctx, id, desired.MapPublicIPOnLaunch); err != nil {
		return nil, err
	}
	if err := a.p.syncEC2Tags(ctx, id, req, desired.Tags); err != nil {
		return nil, err
	}
	return req.Prior, nil
}

func (a *subnetAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	_, err := a.p.ec2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)})
	if err != nil && !isNotFound(err) {
		return classify("failed to delete subnet", err)
	}
	return nil
}

type InternetGatewayConfig struct {
	VpcID string            `json:"vpc_id"`
	Tags  map[string]string `json:"tags"`
}

type InternetGatewayState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpc_id"`
}

type internetGatewayAdapter struct{ p *Provider }

func (a *internetGatewayAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired InternetGatewayConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	resp, err := a.p.ec2.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: tagSpec(types.ResourceTypeInternetGateway, desired.Tags),
	})
	if err != nil {
		return nil, classify("failed to create internet gateway", err)
	}
	id := str(resp.InternetGateway.InternetGatewayId)

	if _, err := a.p.ec2.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(id),
		VpcId:             aws.String(desired.VpcID),
	}); err != nil {
		// Leave nothing behind that state does not know about.
		_, _ = a.p.ec2.DeleteInternetGateway(context.WithoutCancel(ctx), &ec2.DeleteInternetGatewayInput{InternetGatewayId: aws.String(id)})
		return nil, classify("failed to attach internet gateway", err)
	}
	return provider.Encode(InternetGatewayState{ID: id, VpcID: desired.VpcID})
}

func (a *internetGatewayAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	resp, err := a.p.ec2.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{InternetGatewayIds: []string{id}})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe internet gateway", err)
	}
	if len(resp.InternetGateways) == 0 {
		return nil, false, nil
	}
	state := InternetGatewayState{ID: id}
	for _, att := range resp.InternetGateways[0].Attachments {
		state.VpcID = str(att.VpcId)
	}
	attrs, err := provider.Encode(state)
	return attrs, err == nil, err
}

func (a *internetGatewayAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired InternetGatewayConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	if err := a.p.syncEC2Tags(ctx, req.Prior.ID(), req, desired.Tags); err != nil {
		return nil, err
	}
	return req.Prior, nil
}

func (a *internetGatewayAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	if vpcID := req.Prior.String("vpc_id"); vpcID != "" {
		_, err := a.p.ec2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(id),
			VpcId:             aws.String(vpcID),
		})
		if err != nil && !isNotFound(err) && !hasCode(err, "Gateway.NotAttached") {
			return classify("failed to detach internet gateway", err)
		}
	}
	_, err := a.p.ec2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: aws.String(id)})
	if err != nil && !isNotFound(err) {
		return classify("failed to delete internet gateway", err)
	}
	return nil
}

// maxWait is the time a waiter may spend before ctx's deadline, or def without one.
func maxWait(ctx context.Context, def time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return def
}
