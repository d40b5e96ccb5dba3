package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/picklr-io/eksstack/internal/provider"
)

type RouteConfig struct {
	CidrBlock    string `json:"cidr_block"`
	GatewayID    string `json:"gateway_id,omitempty"`
	NatGatewayID string `json:"nat_gateway_id,omitempty"`
}

type RouteTableConfig struct {
	VpcID  string            `json:"vpc_id"`
	Routes []RouteConfig     `json:"routes"`
	Tags   map[string]string `json:"tags"`
}

type RouteTableState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpc_id"`
}

type routeTableAdapter struct{ p *Provider }

func (a *routeTableAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired RouteTableConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	resp, err := a.p.ec2.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId:             aws.String(desired.VpcID),
		ClientToken:       clientToken(req),
		TagSpecifications: tagSpec(types.ResourceTypeRouteTable, desired.Tags),
	})
	if err != nil {
		return nil, classify("failed to create route table", err)
	}
	state := RouteTableState{ID: str(resp.RouteTable.RouteTableId), VpcID: desired.VpcID}

	// A NAT gateway created moments ago may not be routable yet.
	for _, r := range desired.Routes {
		if err := a.p.retryStep(ctx, func(ctx context.Context) error {
			return a.createRoute(ctx, state.ID, r)
		}); err != nil {
			return nil, unfinished(state, err)
		}
	}
	return provider.Encode(state)
}

func (a *routeTableAdapter) createRoute(ctx context.Context, tableID string, r RouteConfig) error {
	input := &ec2.CreateRouteInput{
		RouteTableId:         aws.String(tableID),
		DestinationCidrBlock: aws.String(r.CidrBlock),
	}
	if r.GatewayID != "" {
		input.GatewayId = aws.String(r.GatewayID)
	}
	if r.NatGatewayID != "" {
		input.NatGatewayId = aws.String(r.NatGatewayID)
	}
	if _, err := a.p.ec2.CreateRoute(ctx, input); err != nil && !hasCode(err, "RouteAlreadyExists") {
		return classify("failed to create route "+r.CidrBlock, err)
	}
	return nil
}

func (a *routeTableAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	resp, err := a.p.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{id}})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe route table", err)
	}
	if len(resp.RouteTables) == 0 {
		return nil, false, nil
	}
	attrs, err := provider.Encode(RouteTableState{ID: id, VpcID: str(resp.RouteTables[0].VpcId)})
	return attrs, err == nil, err
}

func (a *routeTableAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired, prior RouteTableConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	if err := provider.Decode(req.PriorInputs, &prior); err != nil {
		return nil, err
	}
	id := req.Prior.ID()

	old := make(map[string]RouteConfig, len(prior.Routes))
	for _, r := range prior.Routes {
		old[r.CidrBlock] = r
	}
	for _, r := range desired.Routes {
		was, ok := old[r.CidrBlock]
		delete(old, r.CidrBlock)
		switch {
		case !ok:
			if err := a.createRoute(ctx, id, r); err != nil {
				return nil, err
			}
		case was != r:
			input := &ec2.ReplaceRouteInput{
				RouteTableId:         aws.String(id),
				DestinationCidrBlock: aws.String(r.CidrBlock),
			}
			if r.GatewayID != "" {
				input.GatewayId = aws.String(r.GatewayID)
			}
			if r.NatGatewayID != "" {
				input.NatGatewayId = aws.String(r.NatGatewayID)
			}
			if _, err := a.p.ec2.ReplaceRoute(ctx, input); err != nil {
				return nil, classify("failed to replace route "+r.CidrBlock, err)
			}
		}
	}
	for _, r := range prior.Routes {
		if _, stale := old[r.CidrBlock]; !stale {
			continue
		}
		_, err := a.p.ec2.DeleteRoute(ctx, &ec2.DeleteRouteInput{
			RouteTableId:         aws.String(id),
			DestinationCidrBlock: aws.String(r.CidrBlock),
		})
		if err != nil && !isNotFound(err) {
			return nil, classify("failed to delete route "+r.CidrBlock, err)
		}
	}

	if err := a.p.syncEC2Tags(ctx, id, req, desired.Tags); err != nil {
		return nil, err
	}
	return req.Prior, nil
}

func (a *routeTableAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	_, err := a.p.ec2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(id)})
	if err != nil && !isNotFound(err) {
		return classify("failed to delete route table", err)
	}
	return nil
}

type RouteTableAssociationConfig struct {
	SubnetID     string `json:"subnet_id"`
	RouteTableID string `json:"route_table_id"`
}

type RouteTableAssociationState struct {
	ID           string `json:"id"`
	SubnetID     string `json:"subnet_id"`
	RouteTableID string `json:"route_table_id"`
}

type routeTableAssociationAdapter struct{ p *Provider }

func (a *routeTableAssociationAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired RouteTableAssociationConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	resp, err := a.p.ec2.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: aws.String(desired.RouteTableID),
		SubnetId:     aws.String(desired.SubnetID),
	})
	if err != nil {
		if isAlreadyExists(err) {
			if id, ok, lookupErr := a.find(ctx, desired); lookupErr == nil && ok {
				return provider.Encode(RouteTableAssociationState{ID: id, SubnetID: desired.SubnetID, RouteTableID: desired.RouteTableID})
			}
		}
		return nil, classify("failed to associate route table", err)
	}
	return provider.Encode(RouteTableAssociationState{
		ID:           str(resp.AssociationId),
		SubnetID:     desired.SubnetID,
		RouteTableID: desired.RouteTableID,
	})
}

// find looks up an existing association of the subnet with the table.
func (a *routeTableAssociationAdapter) find(ctx context.Context, desired RouteTableAssociationConfig) (string, bool, error) {
	resp, err := a.p.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{desired.RouteTableID}})
	if err != nil {
		return "", false, err
	}
	for _, rt := range resp.RouteTables {
		for _, assoc := range rt.Associations {
			if str(assoc.SubnetId) == desired.SubnetID {
				return str(assoc.RouteTableAssociationId), true, nil
			}
		}
	}
	return "", false, nil
}

func (a *routeTableAssociationAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	resp, err := a.p.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []types.Filter{{
			Name:   aws.String("association.route-table-association-id"),
			Values: []string{id},
		}},
	})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to describe route table association", err)
	}
	for _, rt := range resp.RouteTables {
		for _, assoc := range rt.Associations {
			if str(assoc.RouteTableAssociationId) != id {
				continue
			}
			attrs, err := provider.Encode(RouteTableAssociationState{
				ID:           id,
				SubnetID:     str(assoc.SubnetId),
				RouteTableID: str(assoc.RouteTableId),
			})
			return attrs, err == nil, err
		}
	}
	return nil, false, nil
}

// Update moves the subnet to another route table, which issues a new association id.
func (a *routeTableAssociationAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired RouteTableAssociationConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	resp, err := a.p.ec2.ReplaceRouteTableAssociation(ctx, &ec2.ReplaceRouteTableAssociationInput{
		AssociationId: aws.String(req.Prior.ID()),
		RouteTableId:  aws.String(desired.RouteTableID),
	})
	if err != nil {
		return nil, classify("failed to replace route table association", err)
	}
	return provider.Encode(RouteTableAssociationState{
		ID:           str(resp.NewAssociationId),
		SubnetID:     desired.SubnetID,
		RouteTableID: desired.RouteTableID,
	})
}

func (a *routeTableAssociationAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	_, err := a.p.ec2.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{AssociationId: aws.String(id)})
	if err != nil && !isNotFound(err) {
		return classify("failed to disassociate route table", err)
	}
	return nil
}
