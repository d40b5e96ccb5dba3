package engine

import (
	"slices"
	"strings"
	"time"

	"github.com/picklr-io/eksstack/internal/ir"
)

// Policy is the per-kind replace and timeout behavior.
type Policy struct {
	// ForceNew lists property paths ("vpc_config.subnet_ids") whose change
	// cannot be applied in place.
	ForceNew []string
	// CreateBeforeDestroy creates the replacement before deleting the old object.
	CreateBeforeDestroy bool
	// Timeout bounds each provider call for the kind.
	Timeout time.Duration
}

// Policies is the built-in policy table.
var Policies = map[string]Policy{
	ir.KindVpc: {
		ForceNew: []string{"cidr_block"},
		Timeout:  5 * time.Minute,
	},
	ir.KindSubnet: {
		ForceNew: []string{"vpc_id", "cidr_block", "availability_zone"},
		Timeout:  5 * time.Minute,
	},
	ir.KindInternetGateway: {
		ForceNew: []string{"vpc_id"},
		Timeout:  5 * time.Minute,
	},
	ir.KindElasticIP: {
		ForceNew:            []string{"domain"},
		CreateBeforeDestroy: true,
		Timeout:             5 * time.Minute,
	},
	ir.KindNatGateway: {
		ForceNew:            []string{"subnet_id", "allocation_id"},
		CreateBeforeDestroy: true,
		Timeout:             15 * time.Minute,
	},
	ir.KindRouteTable: {
		ForceNew:            []string{"vpc_id"},
		CreateBeforeDestroy: true,
		Timeout:             5 * time.Minute,
	},
	ir.KindRouteTableAssociation: {
		ForceNew: []string{"subnet_id"},
		Timeout:  5 * time.Minute,
	},
	ir.KindSecurityGroup: {
		ForceNew: []string{"vpc_id", "name", "description"},
		Timeout:  5 * time.Minute,
	},
	ir.KindRole: {
		ForceNew: []string{"name", "assume_role_policy"},
		Timeout:  2 * time.Minute,
	},
	ir.KindRolePolicyAttachment: {
		ForceNew: []string{"role", "policy_arn"},
		Timeout:  2 * time.Minute,
	},
	ir.KindCluster: {
		ForceNew: []string{"name", "role_arn", "vpc_config.subnet_ids"},
		Timeout:  30 * time.Minute,
	},
	ir.KindNodeGroup: {
		ForceNew: []string{"cluster_name", "node_group_name", "node_role_arn", "subnet_ids", "instance_types"},
		Timeout:  30 * time.Minute,
	},
	ir.KindDeployment: {
		ForceNew: []string{"namespace", "name", "selector"},
		Timeout:  5 * time.Minute,
	},
	ir.KindService: {
		ForceNew: []string{"namespace", "name"},
		Timeout:  5 * time.Minute,
	},
	ir.KindHPA: {
		ForceNew: []string{"namespace", "name"},
		Timeout:  5 * time.Minute,
	},
	ir.KindHelmRelease: {
		ForceNew: []string{"name", "namespace", "chart", "repo"},
		Timeout:  10 * time.Minute,
	},
}

// PolicyFor returns the policy of kind from table, falling back to no
// force-new properties, delete-before-create and DefaultTimeout.
func PolicyFor(table map[string]Policy, kind string) Policy {
	p, ok := table[kind]
	if !ok {
		return Policy{Timeout: DefaultTimeout}
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// forceNewUnder returns the force-new paths at or below the top-level key.
func (p Policy) forceNewUnder(key string) []string {
	var paths []string
	for _, path := range p.ForceNew {
		if path == key || strings.HasPrefix(path, key+".") {
			paths = append(paths, path)
		}
	}
	return paths
}

// ignored reports whether key is listed in lifecycle.ignoreChanges. Nested
// paths ignore their top-level key.
func ignored(res *ir.Resource, key string) bool {
	if res == nil || res.Lifecycle == nil {
		return false
	}
	return slices.ContainsFunc(res.Lifecycle.IgnoreChanges, func(p string) bool {
		top, _, _ := strings.Cut(p, ".")
		return top == key
	})
}
