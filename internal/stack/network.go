package stack

import (
	"fmt"

	"github.com/picklr-io/eksstack/internal/config"
	"github.com/picklr-io/eksstack/internal/ir"
)

const anywhere = "0.0.0.0/0"

// Network holds the VPC and its routing. Public[i], EIPs[i] and NATs[i] share a zone.
type Network struct {
	VPC                *ir.Resource
	InternetGateway    *ir.Resource
	Public             []*ir.Resource
	Private            []*ir.Resource
	EIPs               []*ir.Resource
	NATs               []*ir.Resource
	PublicRouteTable   *ir.Resource
	PrivateRouteTables []*ir.Resource
	Associations       []*ir.Resource
}

func (st *Stack) declareNetwork(s *config.Settings) *Network {
	n := &Network{}

	n.VPC = st.add(s.VPCName, ir.KindVpc, map[string]any{
		"cidr_block":           s.VPCCIDR,
		"enable_dns_hostnames": true,
		"enable_dns_support":   true,
		"tags":                 tags(s.Tagged(map[string]string{"Name": s.VPCName})),
	})

	n.InternetGateway = st.add("eks-igw", ir.KindInternetGateway, map[string]any{
		"vpc_id": ir.RefTo(n.VPC, "id"),
		"tags":   tags(s.Tagged(map[string]string{"Name": "eks-igw"})),
	})

	for i, sn := range s.PublicSubnets {
		name := fmt.Sprintf("eks-public-subnet-%d", i+1)
		n.Public = append(n.Public, st.add(name, ir.KindSubnet, map[string]any{
			"vpc_id":                  ir.RefTo(n.VPC, "id"),
			"cidr_block":              sn.CIDR,
			"availability_zone":       sn.Zone,
			"map_public_ip_on_launch": true,
			"tags": tags(s.Tagged(map[string]string{
				"Name":                   name,
				"Type":                   "Public",
				"kubernetes.io/role/elb": "1",
			})),
		}))
	}

	for i, sn := range s.PrivateSubnets {
		name := fmt.Sprintf("eks-private-subnet-%d", i+1)
		n.Private = append(n.Private, st.add(name, ir.KindSubnet, map[string]any{
			"vpc_id":                  ir.RefTo(n.VPC, "id"),
			"cidr_block":              sn.CIDR,
			"availability_zone":       sn.Zone,
			"map_public_ip_on_launch": false,
			"tags": tags(s.Tagged(map[string]string{
				"Name":                            name,
				"Type":                            "Private",
				"kubernetes.io/role/internal-elb": "1",
			})),
		}))
	}

	// One NAT gateway per public subnet, looked up by zone for private routing.
	natByZone := make(map[string]*ir.Resource)
	for i, sn := range s.PublicSubnets {
		eipName := fmt.Sprintf("eks-eip-%d", i+1)
		eip := st.add(eipName, ir.KindElasticIP, map[string]any{
			"domain": "vpc",
			"tags":   tags(s.Tagged(map[string]string{"Name": eipName})),
		})
		n.EIPs = append(n.EIPs, eip)

		natName := fmt.Sprintf("eks-nat-gateway-%d", i+1)
		nat := st.add(natName, ir.KindNatGateway, map[string]any{
			"subnet_id":     ir.RefTo(n.Public[i], "id"),
			"allocation_id": ir.RefTo(eip, "id"),
			"tags":          tags(s.Tagged(map[string]string{"Name": natName})),
		}, n.InternetGateway)
		n.NATs = append(n.NATs, nat)
		if _, ok := natByZone[sn.Zone]; !ok {
			natByZone[sn.Zone] = nat
		}
	}

	n.PublicRouteTable = st.add("eks-public-rt", ir.KindRouteTable, map[string]any{
		"vpc_id": ir.RefTo(n.VPC, "id"),
		"routes": []any{
			map[string]any{"cidr_block": anywhere, "gateway_id": ir.RefTo(n.InternetGateway, "id")},
		},
		"tags": tags(s.Tagged(map[string]string{"Name": "eks-public-rt"})),
	})
	for i, sn := range n.Public {
		n.Associations = append(n.Associations, st.add(fmt.Sprintf("eks-public-rta-%d", i+1), ir.KindRouteTableAssociation, map[string]any{
			"subnet_id":      ir.RefTo(sn, "id"),
			"route_table_id": ir.RefTo(n.PublicRouteTable, "id"),
		}))
	}

	for i, sn := range s.PrivateSubnets {
		rtName := fmt.Sprintf("eks-private-rt-%d", i+1)
		rt := st.add(rtName, ir.KindRouteTable, map[string]any{
			"vpc_id": ir.RefTo(n.VPC, "id"),
			"routes": []any{
				map[string]any{"cidr_block": anywhere, "nat_gateway_id": ir.RefTo(natByZone[sn.Zone], "id")},
			},
			"tags": tags(s.Tagged(map[string]string{"Name": rtName})),
		})
		n.PrivateRouteTables = append(n.PrivateRouteTables, rt)
		n.Associations = append(n.Associations, st.add(fmt.Sprintf("eks-private-rta-%d", i+1), ir.KindRouteTableAssociation, map[string]any{
			"subnet_id":      ir.RefTo(n.Private[i], "id"),
			"route_table_id": ir.RefTo(rt, "id"),
		}))
	}

	return n
}
