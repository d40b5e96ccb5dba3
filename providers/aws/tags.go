package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/picklr-io/eksstack/internal/provider"
)

func ec2Tags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func tagSpec(rt types.ResourceType, tags map[string]string) []types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	return []types.TagSpecification{{ResourceType: rt, Tags: ec2Tags(tags)}}
}

// syncEC2Tags moves the tags of id from the last applied set to desired.
func (p *Provider) syncEC2Tags(ctx context.Context, id string, req *provider.Request, desired map[string]string) error {
	set, remove := tagDiff(priorInputTags(req), desired)
	if len(set) > 0 {
		if _, err := p.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{id},
			Tags:      ec2Tags(set),
		}); err != nil {
			return classify("failed to tag "+id, err)
		}
	}
	if len(remove) > 0 {
		keys := make([]types.Tag, 0, len(remove))
		for _, k := range remove {
			keys = append(keys, types.Tag{Key: aws.String(k)})
		}
		if _, err := p.ec2.DeleteTags(ctx, &ec2.DeleteTagsInput{
			Resources: []string{id},
			Tags:      keys,
		}); err != nil {
			return classify("failed to untag "+id, err)
		}
	}
	return nil
}
