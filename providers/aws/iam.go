package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/picklr-io/eksstack/internal/provider"
)

type RoleConfig struct {
	Name             string            `json:"name"`
	AssumeRolePolicy string            `json:"assume_role_policy"`
	Tags             map[string]string `json:"tags"`
}

type RoleState struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ARN      string `json:"arn"`
	UniqueID string `json:"unique_id"`
}

func roleAttrs(role *types.Role) (provider.Attributes, error) {
	return provider.Encode(RoleState{
		ID:       str(role.RoleName),
		Name:     str(role.RoleName),
		ARN:      str(role.Arn),
		UniqueID: str(role.RoleId),
	})
}

func iamTags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

type roleAdapter struct{ p *Provider }

func (a *roleAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired RoleConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}

	resp, err := a.p.iam.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(desired.Name),
		AssumeRolePolicyDocument: aws.String(desired.AssumeRolePolicy),
		Tags:                     iamTags(desired.Tags),
	})
	if err != nil {
		if isAlreadyExists(err) {
			existing, getErr := a.p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(desired.Name)})
			if getErr == nil {
				return roleAttrs(existing.Role)
			}
		}
		return nil, classify("failed to create role", err)
	}
	return roleAttrs(resp.Role)
}

func (a *roleAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	name := req.Prior.String("name")
	if name == "" {
		return nil, false, nil
	}
	resp, err := a.p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("failed to get role", err)
	}
	attrs, err := roleAttrs(resp.Role)
	return attrs, err == nil, err
}

func (a *roleAdapter) Update(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired RoleConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	name := req.Prior.String("name")
	set, remove := tagDiff(priorInputTags(req), desired.Tags)
	if len(set) > 0 {
		if _, err := a.p.iam.TagRole(ctx, &iam.TagRoleInput{RoleName: aws.String(name), Tags: iamTags(set)}); err != nil {
			return nil, classify("failed to tag role", err)
		}
	}
	if len(remove) > 0 {
		if _, err := a.p.iam.UntagRole(ctx, &iam.UntagRoleInput{RoleName: aws.String(name), TagKeys: remove}); err != nil {
			return nil, classify("failed to untag role", err)
		}
	}
	return req.Prior, nil
}

func (a *roleAdapter) Delete(ctx context.Context, req *provider.Request) error {
	name := req.Prior.String("name")
	if name == "" {
		return nil
	}
	_, err := a.p.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
	if err != nil && !isNotFound(err) {
		return classify("failed to delete role", err)
	}
	return nil
}

type RolePolicyAttachmentConfig struct {
	Role      string `json:"role"`
	PolicyARN string `json:"policy_arn"`
}

type RolePolicyAttachmentState struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	PolicyARN string `json:"policy_arn"`
}

type rolePolicyAttachmentAdapter struct{ p *Provider }

func attachmentAttrs(role, policyARN string) (provider.Attributes, error) {
	return provider.Encode(RolePolicyAttachmentState{
		ID:        role + "/" + policyARN,
		Role:      role,
		PolicyARN: policyARN,
	})
}

// splitAttachmentID reverses attachmentAttrs' id; policy ARNs contain slashes.
func splitAttachmentID(id string) (string, string, error) {
	role, policyARN, ok := strings.Cut(id, "/")
	if !ok || role == "" || policyARN == "" {
		return "", "", fmt.Errorf("malformed role policy attachment id %q", id)
	}
	return role, policyARN, nil
}

func (a *rolePolicyAttachmentAdapter) Create(ctx context.Context, req *provider.Request) (provider.Attributes, error) {
	var desired RolePolicyAttachmentConfig
	if err := req.Decode(&desired); err != nil {
		return nil, err
	}
	if _, err := a.p.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(desired.Role),
		PolicyArn: aws.String(desired.PolicyARN),
	}); err != nil {
		return nil, classify("failed to attach policy", err)
	}
	return attachmentAttrs(desired.Role, desired.PolicyARN)
}

func (a *rolePolicyAttachmentAdapter) Read(ctx context.Context, req *provider.Request) (provider.Attributes, bool, error) {
	id := req.Prior.ID()
	if id == "" {
		return nil, false, nil
	}
	role, policyARN, err := splitAttachmentID(id)
	if err != nil {
		return nil, false, provider.Permanent(err)
	}

	pages := iam.NewListAttachedRolePoliciesPaginator(a.p.iam, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(role)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if isNotFound(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, classify("failed to list attached policies", err)
		}
		for _, pol := range page.AttachedPolicies {
			if str(pol.PolicyArn) == policyARN {
				attrs, err := attachmentAttrs(role, policyARN)
				return attrs, err == nil, err
			}
		}
	}
	return nil, false, nil
}

// Update has nothing to change: both properties force a new attachment.
func (a *rolePolicyAttachmentAdapter) Update(_ context.Context, req *provider.Request) (provider.Attributes, error) {
	return req.Prior, nil
}

func (a *rolePolicyAttachmentAdapter) Delete(ctx context.Context, req *provider.Request) error {
	id := req.Prior.ID()
	if id == "" {
		return nil
	}
	role, policyARN, err := splitAttachmentID(id)
	if err != nil {
		return provider.Permanent(err)
	}
	_, err = a.p.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(role),
		PolicyArn: aws.String(policyARN),
	})
	if err != nil && !isNotFound(err) {
		return classify("failed to detach policy", err)
	}
	return nil
}
