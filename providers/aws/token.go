package aws

import (
	"context"
	"encoding/base64"
	"fmt"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const (
	tokenPrefix     = "k8s-aws-v1."
	clusterIDHeader = "x-k8s-aws-id"
)

// Presigner presigns STS GetCallerIdentity requests.
type Presigner interface {
	PresignGetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Token returns a bearer token for the Kubernetes API of the named EKS
// cluster, the same token aws-iam-authenticator issues.
func (p *Provider) Token(ctx context.Context, cluster string) (string, error) {
	if p.presign == nil {
		return "", fmt.Errorf("no STS client configured for cluster tokens")
	}
	req, err := p.presign.PresignGetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}, func(o *sts.PresignOptions) {
		o.ClientOptions = append(o.ClientOptions, func(opts *sts.Options) {
			opts.APIOptions = append(opts.APIOptions,
				smithyhttp.AddHeaderValue(clusterIDHeader, cluster),
				smithyhttp.AddHeaderValue("X-Amz-Expires", "60"),
			)
		})
	})
	if err != nil {
		return "", classify("failed to presign cluster token", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(req.URL)), nil
}
