package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Store stores blobs in an S3 bucket under "reports/<id>". Metadata rides
// on object metadata headers; the returned URL is the object's public URL.
type S3Store struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Store builds an S3Store from the default AWS config chain.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.New(s3.Options{
		Region:       region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
		UsePathStyle: true,
	})

	return &S3Store{client: client, bucket: bucket, region: region}, nil
}

func (s *S3Store) key(id string) string {
	return "reports/" + id
}

func (s *S3Store) objectURL(id string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, s.key(id))
}

// Upload writes the blob to S3 and returns metadata with the object URL.
func (s *S3Store) Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}
	if err := ValidateContentType(meta.ContentType); err != nil {
		return nil, err
	}

	data, hash, err := readAll(content)
	if err != nil {
		return nil, err
	}

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = hash
	meta.URL = s.objectURL(meta.ID)
	meta.CreatedAt = time.Now().UTC()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         stringPtr(s.key(meta.ID)),
		Body:        bytes.NewReader(data),
		ContentType: &meta.ContentType,
		ACL:         types.ObjectCannedACLPrivate,
		Metadata: map[string]string{
			"file-name":  meta.FileName,
			"patient-id": meta.PatientID,
			"sha256":     meta.Hash,
			"created-by": meta.CreatedBy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", s.key(meta.ID), err)
	}

	out := meta // copy
	return &out, nil
}

// Download fetches the blob content and reconstructs metadata from object
// headers.
func (s *S3Store) Download(ctx context.Context, id string) (io.ReadCloser, *Metadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    stringPtr(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("get object %s: %w", s.key(id), err)
	}

	meta := s.metadataFromObject(id, out.ContentType, out.ContentLength, out.Metadata)
	return out.Body, meta, nil
}

// Delete removes the object from the bucket.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    stringPtr(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", s.key(id), err)
	}
	return nil
}

// GetMetadata reads object headers without fetching content.
func (s *S3Store) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    stringPtr(s.key(id)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("head object %s: %w", s.key(id), err)
	}

	return s.metadataFromObject(id, out.ContentType, out.ContentLength, out.Metadata), nil
}

func (s *S3Store) metadataFromObject(id string, contentType *string, contentLength *int64, objMeta map[string]string) *Metadata {
	meta := &Metadata{
		ID:        id,
		URL:       s.objectURL(id),
		FileName:  objMeta["file-name"],
		PatientID: objMeta["patient-id"],
		Hash:      objMeta["sha256"],
		CreatedBy: objMeta["created-by"],
	}
	if contentType != nil {
		meta.ContentType = *contentType
	}
	if contentLength != nil {
		meta.Size = *contentLength
	}
	return meta
}

func stringPtr(s string) *string { return &s }
