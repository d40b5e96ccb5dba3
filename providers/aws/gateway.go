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

type ElasticIPConfig struct {
	Domain string            `json:"domain"`
	Tags   map[string]string `json:"tags"`
}

type ElasticIPState struct {
	ID       string `json:"id"` // allocation id
	PublicIP string `json:"public_ip"`
}

type elasticIPAdapter struct{ p *Provider }

func (a *elasticIPAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired ElasticIPConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	domain := types.DomainTypeVpc
	if desired.Domain == string(types.DomainTypeStandard) {
		domain = types.DomainTypeStandard
	}

	resp, err := a.p.ec2.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain:            domain,
		TagSpecifications: tagSpec(types.ResourceTypeElasticIp, desired.Tags),
	})
	if err != nil {
		return nil, classify("failed to allocate elastic IP", err)
	}
	return provider.Encode(ElasticIPState{ID: str(resp.AllocationId), PublicIP: str(resp.PublicIp)})
}

func (a *elasticIPAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	resp, err := a.p.ec2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{AllocationIds: []string{id}})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe elastic IP", err)
	}
	if len(resp.Addresses) == 0 {
		return nil, false, nil
	}
	attrs, err := provider.Encode(ElasticIPState{ID: id, PublicIP: str(resp.Addresses[0].PublicIp)})
	return attrs, err == nil, err
}

func (a *elasticIPAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired ElasticIPConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	if err := a.p.syncEC2Tags(ctx, req.Prior.ID(), req, desired.Tags); err != nil {
		return nil, err
	}
	return req.Prior, nil
}

func (a *elasticIPAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	_, err := a.p.ec2.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: aws.String(id)})
	if err != nil && !isNotFound(err) {
		return classify("failed to release elastic IP", err)
	}
	return nil
}

type NatGatewayConfig struct {
	SubnetID     string            `json:"subnet_id"`
	AllocationID string            `json:"allocation_id"`
	Tags         map[string]string `json:"tags"`
}

type NatGatewayState struct {
	ID       string `json:"id"`
	SubnetID string `json:"subnet_id"`
	PublicIP string `json:"public_ip"`
	State    string `json:"state"`
}

type natGatewayAdapter struct{ p *Provider }

func (a *natGatewayAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired NatGatewayConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	resp, err := a.p.ec2.CreateNatGateway(ctx, &ec2.CreateNatGatewayInput{
		SubnetId:          aws.String(desired.SubnetID),
		AllocationId:      aws.String(desired.AllocationID),
		ClientToken:       clientToken(req),
		TagSpecifications: tagSpec(types.ResourceTypeNatgateway, desired.Tags),
	})
	if err != nil {
		return nil, classify("failed to create NAT gateway", err)
	}
	id := str(resp.NatGateway.NatGatewayId)

	out, err := ec2.NewNatGatewayAvailableWaiter(a.p.ec2, func(o *ec2.NatGatewayAvailableWaiterOptions) {
		o.MinDelay = a.p.poll
	}).WaitForOutput(ctx, &ec2.DescribeNatGatewaysInput{NatGatewayIds: []string{id}}, maxWait(ctx, 15*time.Minute))
	if err != nil {
		pending := NatGatewayState{ID: id, SubnetID: desired.SubnetID, State: string(types.NatGatewayStatePending)}
		return nil, unfinished(pending, fmt.Errorf("NAT gateway %s did not become available: %w", id, err))
	}
	return natAttrs(out.NatGateways)
}

func natAttrs(gateways []types.NatGateway) (provider.Attributes, error) {
	if len(gateways) == 0 {
		return nil, fmt.Errorf("NAT gateway not returned")
	}
	gw := gateways[0]
	state := NatGatewayState{
		ID:       str(gw.NatGatewayId),
		SubnetID: str(gw.SubnetId),
		State:    string(gw.State),
	}
	for _, addr := range gw.NatGatewayAddresses {
		if addr.PublicIp != nil {
			state.PublicIP = str(addr.PublicIp)
			break
		}
	}
	return provider.Encode(state)
}

func (a *natGatewayAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	resp, err := a.p.ec2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{NatGatewayIds: []string{id}})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe NAT gateway", err)
	}
	if len(resp.NatGateways) == 0 {
		return nil, false, nil
	}
	switch resp.NatGateways[0].State {
	case types.NatGatewayStateDeleted, types.NatGatewayStateDeleting, types.NatGatewayStateFailed:
		return nil, false, nil
	}
	attrs, err := natAttrs(resp.NatGateways)
	return attrs, err == nil, err
}

func (a *natGatewayAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired NatGatewayConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	if err := a.p.syncEC2Tags(ctx, req.Prior.ID(), req, desired.Tags); err != nil {
		return nil, err
	}
	return req.Prior, nil
}

// Delete waits until the gateway is gone: its elastic IP and subnet cannot
// be released before that.
func (a *natGatewayAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	_, err := a.p.ec2.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{NatGatewayId: aws.String(id)})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return classify("failed to delete NAT gateway", err)
	}

	return wait(ctx, a.p.poll, func(ctx context.Context) (bool, error) {
		resp, err := a.p.ec2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{NatGatewayIds: []string{id}})
		if isNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, classify("failed to describe NAT gateway", err)
		}
		return len(resp.NatGateways) == 0 || resp.NatGateways[0].State == types.NatGatewayStateDeleted, nil
	})
}
