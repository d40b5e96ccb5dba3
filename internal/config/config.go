// Package config loads the immutable stack settings from defaults, a config file,
// environment variables and an optional .env file.
package config

import (
	"maps"
	"strings"
)

// SubnetSpec declares one subnet. An empty Zone is filled from AvailabilityZones
// by position when settings are loaded.
type SubnetSpec struct {
	CIDR string `mapstructure:"cidr"`
	Zone string `mapstructure:"zone"`
}

// Settings is the full stack configuration. It is built once by Load and must be
// treated as read-only afterwards.
type Settings struct {
	AWSRegion string `mapstructure:"aws_region"`

	VPCName           string       `mapstructure:"vpc_name"`
	VPCCIDR           string       `mapstructure:"vpc_cidr"`
	AvailabilityZones []string     `mapstructure:"availability_zones"`
	PublicSubnets     []SubnetSpec `mapstructure:"public_subnets"`
	PrivateSubnets    []SubnetSpec `mapstructure:"private_subnets"`

	ClusterName     string `mapstructure:"cluster_name"`
	ClusterVersion  string `mapstructure:"cluster_version"`
	ClusterRoleName string `mapstructure:"cluster_role_name"`

	NodeGroupName    string `mapstructure:"node_group_name"`
	NodeDesiredCount int    `mapstructure:"node_desired_count"`
	NodeMinCount     int    `mapstructure:"node_min_count"`
	NodeMaxCount     int    `mapstructure:"node_max_count"`
	NodeInstanceType string `mapstructure:"node_instance_type"`
	NodeRoleName     string `mapstructure:"node_role_name"`

	Environment string `mapstructure:"environment"`
	Project     string `mapstructure:"project"`
	// Tags are "Key=Value" pairs. A list keeps tag keys case-sensitive.
	Tags []string `mapstructure:"tags"`

	EnableHPA          bool `mapstructure:"enable_hpa"`
	HPAMinReplicas     int  `mapstructure:"hpa_min_replicas"`
	HPAMaxReplicas     int  `mapstructure:"hpa_max_replicas"`
	HPACPUThreshold    int  `mapstructure:"hpa_cpu_threshold"`
	HPAMemoryThreshold int  `mapstructure:"hpa_memory_threshold"`

	DemoNamespace string `mapstructure:"demo_namespace"`
	DemoAppName   string `mapstructure:"demo_app_name"`
	DemoAppImage  string `mapstructure:"demo_app_image"`
	DemoReplicas  int    `mapstructure:"demo_app_replicas"`
	DemoAppPort   int    `mapstructure:"demo_app_port"`

	MetricsServerChartVersion string `mapstructure:"metrics_server_chart_version"`
}

// CommonTags returns the tags applied to every AWS resource. User tags override
// the generated Environment/Project pair but never CreatedBy.
func (s *Settings) CommonTags() map[string]string {
	tags := map[string]string{
		"Environment": s.Environment,
		"Project":     s.Project,
	}
	for _, kv := range s.Tags {
		if k, v, ok := strings.Cut(kv, "="); ok {
			tags[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	tags["CreatedBy"] = "eksstack"
	return tags
}

// Tagged returns the common tags plus extra, without modifying either.
func (s *Settings) Tagged(extra map[string]string) map[string]string {
	tags := s.CommonTags()
	maps.Copy(tags, extra)
	return tags
}

// Defaults returns the built-in value of every option.
func Defaults() map[string]any {
	return map[string]any{
		"aws_region":         "us-east-1",
		"vpc_name":           "eks-vpc",
		"vpc_cidr":           "10.0.0.0/16",
		"availability_zones": []string{"us-east-1a", "us-east-1b"},
		"public_subnets": []map[string]any{
			{"cidr": "10.0.101.0/24"},
			{"cidr": "10.0.102.0/24"},
		},
		"private_subnets": []map[string]any{
			{"cidr": "10.0.1.0/24"},
			{"cidr": "10.0.2.0/24"},
		},
		"cluster_name":      "eks-cluster",
		"cluster_version":   "1.28",
		"cluster_role_name": "eks-cluster-role",

		"node_group_name":    "eks-node-group",
		"node_desired_count": 2,
		"node_min_count":     1,
		"node_max_count":     4,
		"node_instance_type": "t3.medium",
		"node_role_name":     "eks-node-role",

		"environment": "dev",
		"project":     "eks-project",
		"tags":        []string{},

		"enable_hpa":           true,
		"hpa_min_replicas":     2,
		"hpa_max_replicas":     10,
		"hpa_cpu_threshold":    70,
		"hpa_memory_threshold": 80,

		"demo_namespace":    "default",
		"demo_app_name":     "demo-app",
		"demo_app_image":    "nginx:latest",
		"demo_app_replicas": 2,
		"demo_app_port":     80,

		"metrics_server_chart_version": "",
	}
}
