package storage

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MockS3Client is an in-memory double for S3Client used by package tests.
type MockS3Client struct {
	Objects map[string]*MockObject
	Err     error

	LastBucket    string
	LastObjectKey string
}

// MockObject is a stored object's content and size.
type MockObject struct {
	Key     string
	Content []byte
}

// NewMockS3Client returns an empty mock client.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{Objects: make(map[string]*MockObject)}
}

// Put seeds an object directly, bypassing PutObject, useful for arranging
// "already uploaded" fixtures in GC/LFS tests.
func (m *MockS3Client) Put(key string, content []byte) {
	m.Objects[key] = &MockObject{Key: key, Content: content}
}

func (m *MockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	obj, ok := m.Objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.Content)))}, nil
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.LastBucket = aws.ToString(params.Bucket)
	m.LastObjectKey = aws.ToString(params.Key)

	var content []byte
	if params.Body != nil {
		data, err := io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
		content = data
	}
	m.Objects[aws.ToString(params.Key)] = &MockObject{Key: aws.ToString(params.Key), Content: content}
	return &s3.PutObjectOutput{}, nil
}

func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	obj, ok := m.Objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(obj.Content)))}, nil
}

func (m *MockS3Client) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	src := strings.SplitN(aws.ToString(params.CopySource), "/", 2)
	if len(src) != 2 {
		return nil, &types.NoSuchKey{}
	}
	obj, ok := m.Objects[src[1]]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	m.Objects[aws.ToString(params.Key)] = &MockObject{Key: aws.ToString(params.Key), Content: obj.Content}
	return &s3.CopyObjectOutput{}, nil
}

func (m *MockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	delete(m.Objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *MockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	prefix := aws.ToString(params.Prefix)
	var contents []types.Object
	for key, obj := range m.Objects {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			contents = append(contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(obj.Content)))})
		}
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

// NewForTest builds a Gateway backed by a MockS3Client, skipping the real
// AWS SDK config/presign-client construction. Presign methods are not
// exercised through this path; tests that need a pre-signed URL assert on
// the key shape via LFSKey/RepoPrefix instead.
func NewForTest(bucket string, mock *MockS3Client) *Gateway {
	return &Gateway{client: mock, bucket: bucket}
}
