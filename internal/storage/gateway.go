// Package storage provides the Storage Gateway: a thin wrapper around an
// S3-compatible object store that knows nothing about repositories,
// commits or quotas. It produces pre-signed URLs, performs server-side
// copies, and lists/deletes by prefix. Client construction follows the AWS
// SDK v2 idiom used throughout this codebase's S3/LakeFS/MinIO helpers,
// narrowed here to the five pre-sign/head/copy/delete-prefix operations the
// Storage Gateway needs, plus CopyPrefix for repository moves.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// sharedHTTPClient is reused across every Gateway so pre-sign and copy calls
// benefit from connection pooling instead of dialing fresh each time.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Config configures a Gateway.
type Config struct {
	Endpoint         string
	PublicEndpoint   string // used when generating pre-signed URLs handed to external clients
	Bucket           string
	AccessKey        string
	SecretKey        string
	Region           string
	ForcePathStyle   bool
	SignatureVersion string
}

// HeadResult is the outcome of a head() call.
type HeadResult struct {
	Exists bool
	Size   int64
	ETag   string
}

// Gateway wraps an S3-compatible client with the presigned-URL and
// content-addressed key helpers the rest of the service needs.
type Gateway struct {
	client   S3Client
	presign  *s3.PresignClient
	bucket   string
	public   string
	log      *logrus.Entry
}

// New builds a Gateway against an S3-compatible endpoint.
func New(ctx context.Context, cfg Config, log *logrus.Entry) (*Gateway, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), 5)
		}),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					SigningRegion:     region,
					HostnameImmutable: true,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		o.HTTPClient = sharedHTTPClient
	})

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		public:  cfg.PublicEndpoint,
		log:     log.WithField("component", "storage.Gateway"),
	}, nil
}

// Bucket returns the bucket this Gateway operates on, for callers that need
// to construct a storage URI (e.g. the commit pipeline linking a physical
// address into the Version Store).
func (g *Gateway) Bucket() string { return g.bucket }

// Method enumerates the HTTP verbs a pre-signed URL can be issued for.
type Method string

const (
	MethodGet Method = http.MethodGet
	MethodPut Method = http.MethodPut
)

// PresignPut issues a pre-signed PUT URL for key, valid for expires. A
// non-empty sha256 is set as the request's ChecksumSHA256 (the
// x-amz-checksum-sha256 header); pass "" to fall back to a plain PUT.
func (g *Gateway) PresignPut(ctx context.Context, key string, size int64, sha256 string, expires time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(size),
	}
	if sha256 != "" {
		input.ChecksumSHA256 = aws.String(sha256)
	}

	req, err := g.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("storage: presign put %s: %w", key, err)
	}
	return req.URL, nil
}

// PresignGet issues a pre-signed GET URL for key, valid for expires.
func (g *Gateway) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := g.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("storage: presign get %s: %w", key, err)
	}
	return req.URL, nil
}

// Head reports whether key exists, and if so its size and ETag.
func (g *Gateway) Head(ctx context.Context, key string) (HeadResult, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return HeadResult{Exists: false}, nil
		}
		return HeadResult{}, fmt.Errorf("storage: head %s: %w", key, err)
	}

	res := HeadResult{Exists: true}
	if out.ContentLength != nil {
		res.Size = *out.ContentLength
	}
	if out.ETag != nil {
		res.ETag = *out.ETag
	}
	return res, nil
}

// Copy performs a server-side copy from srcKey to dstKey within the bucket.
func (g *Gateway) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := g.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(g.bucket),
		CopySource: aws.String(g.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		return fmt.Errorf("storage: copy %s -> %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// DeletePrefix removes every object whose key starts with prefix, fanning
// out up to maxParallel concurrent deletes. Missing objects are treated
// as already-deleted, so a retried delete is a no-op.
func (g *Gateway) DeletePrefix(ctx context.Context, prefix string, maxParallel int) error {
	if maxParallel <= 0 {
		maxParallel = 8
	}

	var continuationToken *string
	sem := make(chan struct{}, maxParallel)
	errCh := make(chan error, 1)

	for {
		out, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(g.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return fmt.Errorf("storage: list prefix %s: %w", prefix, err)
		}

		var wg chanWaitGroup
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			wg.add(1)
			sem <- struct{}{}
			go func(key string) {
				defer wg.done()
				defer func() { <-sem }()
				if _, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(g.bucket),
					Key:    aws.String(key),
				}); err != nil && !isNotFound(err) {
					select {
					case errCh <- fmt.Errorf("storage: delete %s: %w", key, err):
					default:
					}
				}
			}(key)
		}
		wg.wait()

		select {
		case err := <-errCh:
			return err
		default:
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return nil
}

// CopyPrefix server-side copies every object whose key starts with
// srcPrefix to the same relative path under dstPrefix, fanning out up to
// maxParallel concurrent copies. Used by the Repository Lifecycle's move
// orchestration, which needs a bulk copy the way DeletePrefix needs a bulk
// delete; both share the same list-then-fan-out shape.
func (g *Gateway) CopyPrefix(ctx context.Context, srcPrefix, dstPrefix string, maxParallel int) error {
	if maxParallel <= 0 {
		maxParallel = 8
	}

	var continuationToken *string
	sem := make(chan struct{}, maxParallel)
	errCh := make(chan error, 1)

	for {
		out, err := g.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(g.bucket),
			Prefix:            aws.String(srcPrefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return fmt.Errorf("storage: list prefix %s: %w", srcPrefix, err)
		}

		var wg chanWaitGroup
		for _, obj := range out.Contents {
			srcKey := aws.ToString(obj.Key)
			dstKey := dstPrefix + strings.TrimPrefix(srcKey, srcPrefix)
			wg.add(1)
			sem <- struct{}{}
			go func(srcKey, dstKey string) {
				defer wg.done()
				defer func() { <-sem }()
				if err := g.Copy(ctx, srcKey, dstKey); err != nil {
					select {
					case errCh <- err:
					default:
					}
				}
			}(srcKey, dstKey)
		}
		wg.wait()

		select {
		case err := <-errCh:
			return err
		default:
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return nil
}

// chanWaitGroup avoids importing sync solely for a fan-out helper that is
// already channel-based elsewhere in this file.
type chanWaitGroup struct {
	n  int
	ch chan struct{}
}

func (w *chanWaitGroup) add(n int) {
	if w.ch == nil {
		w.ch = make(chan struct{}, 1<<20)
	}
	w.n += n
}

func (w *chanWaitGroup) done() { w.ch <- struct{}{} }

func (w *chanWaitGroup) wait() {
	for i := 0; i < w.n; i++ {
		<-w.ch
	}
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// LFSKey builds the content-addressed key for an LFS blob:
// lfs/{sha[:2]}/{sha[2:4]}/{sha}.
func LFSKey(sha256 string) string {
	if len(sha256) < 4 {
		return "lfs/" + sha256
	}
	return fmt.Sprintf("lfs/%s/%s/%s", sha256[0:2], sha256[2:4], sha256)
}

// RepoPrefix builds the LakeFS-owned storage prefix for a repository:
// hf-{repo_type}-{namespace}-{name}/.
func RepoPrefix(repoType, namespace, name string) string {
	return fmt.Sprintf("hf-%s-%s-%s/", repoType, namespace, name)
}
