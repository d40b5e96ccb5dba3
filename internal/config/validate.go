package config

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// ConfigurationError reports a bad or missing setting. It is raised before any
// graph is built.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

func newConfigError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every setting and returns all problems joined.
func (s *Settings) Validate() error {
	var errs []error
	add := func(err *ConfigurationError) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, f := range []struct{ field, val string }{
		{"aws_region", s.AWSRegion},
		{"vpc_name", s.VPCName},
		{"cluster_name", s.ClusterName},
		{"cluster_version", s.ClusterVersion},
		{"cluster_role_name", s.ClusterRoleName},
		{"node_group_name", s.NodeGroupName},
		{"node_instance_type", s.NodeInstanceType},
		{"node_role_name", s.NodeRoleName},
	} {
		if f.val == "" {
			add(newConfigError(f.field, "must not be empty"))
		}
	}

	for i, kv := range s.Tags {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			add(newConfigError(fmt.Sprintf("tags[%d]", i), "%q is not Key=Value", kv))
		}
	}

	vpc, err := netip.ParsePrefix(s.VPCCIDR)
	if err != nil {
		add(newConfigError("vpc_cidr", "invalid CIDR %q", s.VPCCIDR))
	}

	if len(s.AvailabilityZones) == 0 {
		add(newConfigError("availability_zones", "at least one zone is required"))
	}
	if len(s.PublicSubnets) == 0 {
		add(newConfigError("public_subnets", "at least one public subnet is required"))
	}
	if len(s.PrivateSubnets) == 0 {
		add(newConfigError("private_subnets", "at least one private subnet is required"))
	}

	var seen []netip.Prefix
	checkSubnets := func(field string, subnets []SubnetSpec) {
		for i, sn := range subnets {
			f := fmt.Sprintf("%s[%d]", field, i)
			p, err := netip.ParsePrefix(sn.CIDR)
			if err != nil {
				add(newConfigError(f, "invalid CIDR %q", sn.CIDR))
				continue
			}
			if vpc.IsValid() && (p.Bits() < vpc.Bits() || !vpc.Contains(p.Addr())) {
				add(newConfigError(f, "%s is not inside vpc_cidr %s", sn.CIDR, s.VPCCIDR))
			}
			for _, other := range seen {
				if other.Overlaps(p) {
					add(newConfigError(f, "%s overlaps %s", sn.CIDR, other))
				}
			}
			seen = append(seen, p)
			if sn.Zone == "" {
				add(newConfigError(f, "no availability zone"))
			}
		}
	}
	checkSubnets("public_subnets", s.PublicSubnets)
	checkSubnets("private_subnets", s.PrivateSubnets)

	// Every private subnet routes through a NAT gateway in its own zone.
	var publicZones []string
	for _, sn := range s.PublicSubnets {
		publicZones = append(publicZones, sn.Zone)
	}
	for i, sn := range s.PrivateSubnets {
		if sn.Zone != "" && !slices.Contains(publicZones, sn.Zone) {
			add(newConfigError(fmt.Sprintf("private_subnets[%d]", i), "zone %s has no public subnet for a NAT gateway", sn.Zone))
		}
	}

	if s.NodeMinCount < 0 {
		add(newConfigError("node_min_count", "must not be negative"))
	}
	if s.NodeMaxCount < 1 {
		add(newConfigError("node_max_count", "must be at least 1"))
	}
	if s.NodeDesiredCount < s.NodeMinCount || s.NodeDesiredCount > s.NodeMaxCount {
		add(newConfigError("node_desired_count", "%d is outside [%d, %d]", s.NodeDesiredCount, s.NodeMinCount, s.NodeMaxCount))
	}

	if s.EnableHPA {
		if s.HPAMinReplicas < 1 {
			add(newConfigError("hpa_min_replicas", "must be at least 1"))
		}
		if s.HPAMinReplicas > s.HPAMaxReplicas {
			add(newConfigError("hpa_max_replicas", "must be >= hpa_min_replicas (%d)", s.HPAMinReplicas))
		}
		if s.HPACPUThreshold < 1 || s.HPACPUThreshold > 100 {
			add(newConfigError("hpa_cpu_threshold", "%d is outside 1..100", s.HPACPUThreshold))
		}
		if s.HPAMemoryThreshold < 1 || s.HPAMemoryThreshold > 100 {
			add(newConfigError("hpa_memory_threshold", "%d is outside 1..100", s.HPAMemoryThreshold))
		}
		if s.DemoNamespace == "" || s.DemoAppName == "" || s.DemoAppImage == "" {
			add(newConfigError("demo_app_name", "namespace, name and image are required"))
		}
		if s.DemoReplicas < 1 {
			add(newConfigError("demo_app_replicas", "must be at least 1"))
		}
		if s.DemoAppPort < 1 || s.DemoAppPort > 65535 {
			add(newConfigError("demo_app_port", "%d is not a valid port", s.DemoAppPort))
		}
	}

	return errors.Join(errs...)
}
