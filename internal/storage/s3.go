// Package storage provisions the object storage buckets platform
// components write to, such as the monitoring log store and the CSI
// driver cache.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-logr/logr"

	"github.com/clustermesh/platform-operator/internal/cloud"
)

// CreateBucketAPI is the slice of the S3 API the provisioner needs.
type CreateBucketAPI interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// BucketProvisioner creates buckets idempotently.
type BucketProvisioner struct {
	api    CreateBucketAPI
	region string
	logger logr.Logger
}

// NewBucketProvisioner builds a provisioner for the given account and
// region. Path-style addressing is forced so S3-compatible gateways such
// as MinIO work without wildcard DNS.
func NewBucketProvisioner(ctx context.Context, cfg cloud.AWSConfig, logger logr.Logger) (*BucketProvisioner, error) {
	awsCfg, err := cloud.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewBucketProvisionerFromAPI(api, cfg.Region, logger), nil
}

// NewBucketProvisionerFromAPI wires an existing API implementation, used
// by tests.
func NewBucketProvisionerFromAPI(api CreateBucketAPI, region string, logger logr.Logger) *BucketProvisioner {
	return &BucketProvisioner{api: api, region: region, logger: logger}
}

// EnsureBucket creates the bucket if it does not exist yet. A bucket that
// already exists in this account counts as success.
func (p *BucketProvisioner) EnsureBucket(ctx context.Context, name string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	// us-east-1 rejects an explicit location constraint.
	if p.region != "" && p.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}

	_, err := p.api.CreateBucket(ctx, input)
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		var exists *s3types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			p.logger.V(1).Info("bucket already exists", "bucket", name)
			return nil
		}
		return fmt.Errorf("creating bucket %s: %w", name, err)
	}
	p.logger.Info("created bucket", "bucket", name)
	return nil
}
