package blob

import (
	"bytes"
	"context"
	"errors"
	"io"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	rerrors "github.com/fenwicklabs/reservoir/errors"
	"github.com/fenwicklabs/reservoir/internal/util"
)

// S3Store is a Store backed by an S3 bucket. Used for both the Page
// Getter's cache bucket and the Worker's result bucket (spec.md §6).
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store loads the default AWS config chain and returns a Store for
// the given bucket.
func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, rerrors.Wrap(err, "load AWS config")
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewS3StoreFromClient builds a Store around an already-configured client,
// useful for pointing at a local S3-compatible endpoint in tests.
func NewS3StoreFromClient(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Get(ctx context.Context, key string) (Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: util.Ptr(s.bucket),
		Key:    util.Ptr(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var apiErr smithy.APIError
		if errors.As(err, &nsk) {
			return Object{}, ErrNotFound
		}
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return Object{}, ErrNotFound
		}
		return Object{}, rerrors.Wrapf(err, "get object %s", key)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, rerrors.Wrapf(err, "read object body %s", key)
	}

	metadata := make(map[string]string, len(out.Metadata)+1)
	for k, v := range out.Metadata {
		metadata[k] = v
	}
	if out.ContentEncoding != nil {
		metadata[metaContentEncoding] = *out.ContentEncoding
	}

	decoded, err := gunzipIfNeeded(body, metadata)
	if err != nil {
		return Object{}, err
	}
	return Object{Body: decoded, Metadata: metadata}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	compressed, meta := gzipBody(body, metadata)

	s3Meta := make(map[string]string, len(meta))
	var encoding *string
	for k, v := range meta {
		if k == metaContentEncoding {
			encoding = util.Ptr(v)
			continue
		}
		s3Meta[k] = v
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          util.Ptr(s.bucket),
		Key:             util.Ptr(key),
		Body:            bytes.NewReader(compressed),
		Metadata:        s3Meta,
		ContentEncoding: encoding,
	})
	if err != nil {
		return rerrors.Wrapf(err, "put object %s", key)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: util.Ptr(s.bucket),
		Key:    util.Ptr(key),
	})
	if err != nil {
		return rerrors.Wrapf(err, "delete object %s", key)
	}
	return nil
}
