package ir

// Resource kinds understood by the bundled providers.
const (
	KindVpc                   = "aws:EC2.Vpc"
	KindSubnet                = "aws:EC2.Subnet"
	KindInternetGateway       = "aws:EC2.InternetGateway"
	KindElasticIP             = "aws:EC2.ElasticIP"
	KindNatGateway            = "aws:EC2.NatGateway"
	KindRouteTable            = "aws:EC2.RouteTable"
	KindRouteTableAssociation = "aws:EC2.RouteTableAssociation"
	KindSecurityGroup         = "aws:EC2.SecurityGroup"
	KindRole                  = "aws:IAM.Role"
	KindRolePolicyAttachment  = "aws:IAM.RolePolicyAttachment"
	KindCluster               = "aws:EKS.Cluster"
	KindNodeGroup             = "aws:EKS.NodeGroup"

	KindDeployment = "kubernetes:apps/v1.Deployment"
	KindService    = "kubernetes:core/v1.Service"
	KindHPA        = "kubernetes:autoscaling/v2.HorizontalPodAutoscaler"

	KindHelmRelease = "helm:Release"
)

// Kinds returns every kind above in declaration order.
func Kinds() []string {
	return []string{
		KindVpc, KindSubnet, KindInternetGateway, KindElasticIP, KindNatGateway,
		KindRouteTable, KindRouteTableAssociation, KindSecurityGroup,
		KindRole, KindRolePolicyAttachment, KindCluster, KindNodeGroup,
		KindDeployment, KindService, KindHPA, KindHelmRelease,
	}
}
