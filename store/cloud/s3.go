package cloud

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/kilnstore/kiln/cmn"
	"github.com/kilnstore/kiln/plugin"
	"github.com/kilnstore/kiln/store"
)

type S3Backend struct {
	svc *s3.S3
}

// interface guard
var _ store.Backend = (*S3Backend)(nil)

func NewS3(region string) (*S3Backend, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return &S3Backend{svc: s3.New(sess)}, nil
}

func (b *S3Backend) Scheme() string { return cmn.SchemeS3 }

func (b *S3Backend) Save(ctx context.Context, uri cmn.BlobURI, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	_, err = b.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(uri.ContainerID),
		Key:    aws.String(uri.BlobName),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", 0, translateS3Err(err, uri)
	}
	return uri.String(), int64(len(data)), nil
}

func (b *S3Backend) Load(ctx context.Context, uri cmn.BlobURI) (io.ReadCloser, error) {
	out, err := b.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(uri.ContainerID),
		Key:    aws.String(uri.BlobName),
	})
	if err != nil {
		return nil, translateS3Err(err, uri)
	}
	return out.Body, nil
}

func (b *S3Backend) Delete(ctx context.Context, uri cmn.BlobURI) error {
	_, err := b.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(uri.ContainerID),
		Key:    aws.String(uri.BlobName),
	})
	if err != nil {
		return translateS3Err(err, uri)
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, uri cmn.BlobURI) (bool, error) {
	_, err := b.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(uri.ContainerID),
		Key:    aws.String(uri.BlobName),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == "NotFound" {
			return false, nil
		}
		return false, translateS3Err(err, uri)
	}
	return true, nil
}

func translateS3Err(err error, uri cmn.BlobURI) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return cmn.NewNotFound("blob not found: %s", uri)
		}
	}
	return cmn.NewUnavailable("s3 backend: %v", err)
}

// FactoryS3 adapts NewS3 into a plugin.Factory.
func FactoryS3(region string) plugin.Factory {
	return plugin.FactoryFunc(func(req plugin.HandshakeRequest) (plugin.HandshakeResponse, interface{}, error) {
		b, err := NewS3(region)
		if err != nil {
			return plugin.HandshakeResponse{}, nil, err
		}
		resp := plugin.HandshakeResponse{
			ID:            "store.s3",
			Name:          "S3 storage backend",
			Version:       "1.0.0",
			Category:      plugin.CategoryStorage,
			Interfaces:    []string{store.InterfaceTag},
			CapabilityIDs: []string{cmn.SchemeS3},
			ReadyState:    plugin.Ready,
		}
		return resp, b, nil
	})
}
