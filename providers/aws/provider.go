// Package aws implements the EC2, IAM and EKS resource kinds on the AWS SDK.
package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/provider"
)

// Options configures the AWS clients.
type Options struct {
	Region  string
	Profile string
}

// Provider holds the AWS service clients shared by every adapter.
type Provider struct {
	ec2     EC2API
	iam     IAMAPI
	eks     EKSAPI
	presign Presigner
	poll    time.Duration
}

// New loads the default AWS configuration for the region and builds the clients.
func New(ctx context.Context, opts Options) (*Provider, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &Provider{
		ec2:     ec2.NewFromConfig(cfg),
		iam:     iam.NewFromConfig(cfg),
		eks:     eks.NewFromConfig(cfg),
		presign: sts.NewPresignClient(sts.NewFromConfig(cfg)),
		poll:    15 * time.Second,
	}, nil
}

// NewWithClients builds a provider around caller supplied clients. presign may
// be nil when no cluster tokens are needed.
func NewWithClients(ec2Client EC2API, iamClient IAMAPI, eksClient EKSAPI, presign Presigner) *Provider {
	return &Provider{ec2: ec2Client, iam: iamClient, eks: eksClient, presign: presign, poll: 15 * time.Second}
}

// SetPollInterval changes how often waiters poll for state transitions.
func (p *Provider) SetPollInterval(d time.Duration) {
	if d > 0 {
		p.poll = d
	}
}

func (p *Provider) Name() string { return "aws" }

func (p *Provider) Adapters() map[string]provider.Adapter {
	return map[string]provider.Adapter{
		ir.KindVpc:                   &vpcAdapter{p},
		ir.KindSubnet:                &subnetAdapter{p},
		ir.KindInternetGateway:       &internetGatewayAdapter{p},
		ir.KindElasticIP:             &elasticIPAdapter{p},
		ir.KindNatGateway:            &natGatewayAdapter{p},
		ir.KindRouteTable:            &routeTableAdapter{p},
		ir.KindRouteTableAssociation: &routeTableAssociationAdapter{p},
		ir.KindSecurityGroup:         &securityGroupAdapter{p},
		ir.KindRole:                  &roleAdapter{p},
		ir.KindRolePolicyAttachment:  &rolePolicyAttachmentAdapter{p},
		ir.KindCluster:               &clusterAdapter{p},
		ir.KindNodeGroup:             &nodeGroupAdapter{p},
	}
}

var transientCodes = map[string]bool{
	"Throttling":                        true,
	"ThrottlingException":               true,
	"ThrottledException":                true,
	"RequestLimitExceeded":              true,
	"RequestThrottled":                  true,
	"TooManyRequestsException":          true,
	"ServiceUnavailable":                true,
	"ServiceUnavailableException":       true,
	"InternalError":                     true,
	"InternalFailure":                   true,
	"ServerException":                   true,
	"DependencyViolation":               true,
	"DeleteConflict":                    true,
	"ResourceInUseException":            true,
	"IncorrectState":                    true,
	"ConcurrentModification":            true,
	"InvalidVpcID.NotFound":             true,
	"InvalidSubnetID.NotFound":          true,
	"InvalidGroup.NotFound":             true,
	"InvalidAllocationID.NotFound":      true,
	"InvalidRouteTableID.NotFound":      true,
	"InvalidInternetGatewayID.NotFound": true,
	"InvalidNatGatewayID.NotFound":      true,
	"NatGatewayNotFound":                true,
	"InvalidIPAddress.InUse":            true,
}

var permanentCodes = map[string]bool{
	"ValidationError":                      true,
	"ValidationException":                  true,
	"InvalidParameterValue":                true,
	"InvalidParameterCombination":          true,
	"InvalidParameterValueException":       true,
	"MalformedPolicyDocument":              true,
	"InvalidInput":                         true,
	"UnauthorizedOperation":                true,
	"AccessDenied":                         true,
	"AccessDeniedException":                true,
	"InvalidClientTokenId":                 true,
	"UnsupportedAvailabilityZoneException": true,
	"LimitExceeded":                        true,
	"LimitExceededException":               true,
	"ResourceLimitExceededException":       true,
	"VpcLimitExceeded":                     true,
	"AddressLimitExceeded":                 true,
	"NatGatewayLimitExceeded":              true,
	"RouteTableLimitExceeded":              true,
	"SecurityGroupLimitExceeded":           true,
}

// classify wraps an SDK error as transient or permanent using its smithy
// error code. Unknown codes are left for the engine's message matching.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", op, err)

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return wrapped
	}
	code := apiErr.ErrorCode()
	switch {
	case transientCodes[code]:
		return provider.Transient(wrapped)
	case code == "InvalidParameterException" && isIAMPropagation(apiErr.ErrorMessage()):
		// EKS rejects roles it cannot assume yet right after IAM creates them.
		return provider.Transient(wrapped)
	case permanentCodes[code], code == "InvalidParameterException":
		return provider.Permanent(wrapped)
	case apiErr.ErrorFault() == smithy.FaultServer:
		return provider.Transient(wrapped)
	}
	return wrapped
}

func isIAMPropagation(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "role") &&
		(strings.Contains(msg, "cannot be assumed") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "not authorized"))
}

// isNotFound reports whether err says the object is already gone.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return strings.HasSuffix(code, ".NotFound") ||
		code == "NoSuchEntity" ||
		code == "ResourceNotFoundException" ||
		code == "NatGatewayNotFound"
}

// hasCode reports whether err carries one of the smithy error codes.
func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}

// isAlreadyExists reports whether a create failed because the object exists.
func isAlreadyExists(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "EntityAlreadyExists", "InvalidGroup.Duplicate", "ResourceInUseException", "Resource.AlreadyAssociated":
		return true
	}
	return false
}

// tagMap converts a tags property into a string map.
func tagMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// tagDiff returns the tags to set and the keys to remove when moving from old to desired.
func tagDiff(old, desired map[string]string) (map[string]string, []string) {
	set := make(map[string]string)
	for k, v := range desired {
		if old[k] != v {
			set[k] = v
		}
	}
	var remove []string
	for _, k := range sortedKeys(old) {
		if _, ok := desired[k]; !ok {
			remove = append(remove, k)
		}
	}
	return set, remove
}

// priorInputTags returns the tags last applied, taken from the prior inputs.
func priorInputTags(req *provider.Request) map[string]string {
	if req.PriorInputs == nil {
		return map[string]string{}
	}
	raw, _ := req.PriorInputs["tags"].(map[string]any)
	return tagMap(raw)
}

// stepAttempts bounds how often a follow-up call of a Create is tried.
const stepAttempts = 4

// retryStep runs a follow-up call of a Create, such as adding a route to a new
// table, trying again on transient errors. The object it works on already
// exists, so the Create itself must not be repeated for these errors.
func (p *Provider) retryStep(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < stepAttempts; attempt++ {
		if err = fn(ctx); err == nil || !provider.IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(p.poll):
		}
	}
	return err
}

// unfinished reports a Create whose object exists but whose follow-up steps
// failed. state describes the object so it can be recorded.
func unfinished(state any, err error) error {
	attrs, encErr := provider.Encode(state)
	if encErr != nil {
		return errors.Join(err, encErr)
	}
	return provider.Partial(attrs, err)
}

// clientToken returns the request's idempotency token, or nil without one.
func clientToken(req *provider.Request) *string {
	if req.Token == "" {
		return nil
	}
	return aws.String(req.Token)
}

// wait polls check every interval until it reports done, fails, or ctx ends.
func wait(ctx context.Context, interval time.Duration, check func(context.Context) (bool, error)) error {
	for {
		done, err := check(ctx)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func str(v *string) string {
	return aws.ToString(v)
}
