package state

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	puts    []*s3.PutObjectInput
	getErr  error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

type fakeDynamo struct {
	items map[string]string
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := in.Item["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if _, held := f.items[id]; held {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
	}
	f.items[id] = in.Item["Info"].(*dbtypes.AttributeValueMemberS).Value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	id := in.Key["LockID"].(*dbtypes.AttributeValueMemberS).Value
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func testS3Backend(t *testing.T, config map[string]string) (*s3Backend, *fakeS3) {
	t.Helper()
	b, err := parseS3Config(config)
	require.NoError(t, err)
	fake := &fakeS3{}
	b.s3Client = fake
	return b, fake
}

func TestParseS3Config(t *testing.T) {
	_, err := parseS3Config(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")

	b, err := parseS3Config(map[string]string{"bucket": "my-bucket"})
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", b.bucket)
	assert.Equal(t, "eksstack/state.json", b.key)
	assert.Equal(t, "us-east-1", b.region)
	assert.Empty(t, b.dynamoDBTable)
	assert.False(t, b.encrypt)

	b, err = parseS3Config(map[string]string{
		"bucket":         "custom-bucket",
		"key":            "envs/dev/state.json",
		"region":         "eu-west-1",
		"dynamodb_table": "eksstack-locks",
		"encrypt":        "true",
		"profile":        "staging",
	})
	require.NoError(t, err)
	assert.Equal(t, "envs/dev/state.json", b.key)
	assert.Equal(t, "eu-west-1", b.region)
	assert.Equal(t, "eksstack-locks", b.dynamoDBTable)
	assert.True(t, b.encrypt)
	assert.Equal(t, "staging", b.profile)
}

func TestS3Backend_ReadMissingObject(t *testing.T) {
	b, _ := testS3Backend(t, map[string]string{"bucket": "b"})

	st, err := b.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Serial)
	assert.NotEmpty(t, st.Lineage)
}

func TestS3Backend_ReadNotFoundAPIError(t *testing.T) {
	b, fake := testS3Backend(t, map[string]string{"bucket": "b"})
	fake.getErr = &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}

	_, err := b.Read(context.Background())
	require.NoError(t, err)

	fake.getErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err = b.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/eksstack/state.json")
}

func TestS3Backend_WriteRead(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")
	b, fake := testS3Backend(t, map[string]string{"bucket": "b", "encrypt": "true"})
	ctx := context.Background()

	st := NewState()
	st.Serial = 5
	st.Resources = append(st.Resources, &ir.ResourceState{Name: "eks-cluster", Kind: ir.KindCluster})
	require.NoError(t, b.Write(ctx, st))

	require.Len(t, fake.puts, 1)
	assert.Equal(t, s3types.ServerSideEncryptionAes256, fake.puts[0].ServerSideEncryption)
	assert.Equal(t, "application/json", aws.ToString(fake.puts[0].ContentType))

	back, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Lineage, back.Lineage)
	assert.Equal(t, 5, back.Serial)
	require.Len(t, back.Resources, 1)
	assert.Equal(t, ir.KindCluster, back.Resources[0].Kind)
}

func TestS3Backend_Lock(t *testing.T) {
	ctx := context.Background()
	locks := &fakeDynamo{items: map[string]string{}}

	first, _ := testS3Backend(t, map[string]string{"bucket": "b", "dynamodb_table": "locks"})
	first.dbClient = locks
	second, _ := testS3Backend(t, map[string]string{"bucket": "b", "dynamodb_table": "locks"})
	second.dbClient = locks

	require.NoError(t, first.Lock(ctx))
	err := second.Lock(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")

	require.NoError(t, first.Unlock(ctx))
	require.NoError(t, second.Lock(ctx))
	require.NoError(t, second.Unlock(ctx))
}

func TestS3Backend_LockWithoutTable(t *testing.T) {
	b, _ := testS3Backend(t, map[string]string{"bucket": "b"})
	require.NoError(t, b.Lock(context.Background()))
	require.NoError(t, b.Unlock(context.Background()))
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, isNoSuchKey(&s3types.NoSuchKey{}))
	assert.True(t, isNoSuchKey(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isNoSuchKey(errors.New("boom")))
}
