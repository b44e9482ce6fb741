// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package stageupload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Stage credential map keys, as issued by the control plane.
const (
	credAWSKeyID  = "AWS_KEY_ID"
	credAWSSecret = "AWS_SECRET_KEY"
	credAWSToken  = "AWS_TOKEN"
)

// S3Backend uploads chunks directly to the stage's S3 location using the
// scoped credentials from the descriptor. The credentials rotate with
// every refresh, so the S3 client is built per call from the descriptor
// rather than held on the backend.
type S3Backend struct {
	tracer trace.Tracer

	// applyS3 hooks the client options, used by tests to point at a stub.
	applyS3 []func(*s3.Options)
}

var _ TransferBackend = (*S3Backend)(nil)

// S3Option customizes an S3Backend.
type S3Option func(*S3Backend)

// WithS3Endpoint forces a custom S3 endpoint (eg MinIO, Ceph).
func WithS3Endpoint(url string) S3Option {
	return func(b *S3Backend) {
		b.applyS3 = append(b.applyS3, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(url)
			o.UsePathStyle = true
		})
	}
}

// NewS3Backend returns an S3 transfer backend.
func NewS3Backend(opts ...S3Option) *S3Backend {
	b := &S3Backend{
		tracer: otel.Tracer("github.com/cardinalhq/stagerunner/internal/stageupload"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *S3Backend) Put(ctx context.Context, req PutRequest) error {
	si := req.Descriptor.StageInfo

	keyID := si.Creds[credAWSKeyID]
	secret := si.Creds[credAWSSecret]
	if keyID == "" || secret == "" {
		// Same ambiguity as a rejected token: the descriptor is unusable
		// and a refresh is the only way out.
		return fmt.Errorf("%w: stage descriptor carries no AWS credentials", ErrCredentialsRejected)
	}

	bucket, prefix := splitStageLocation(si.Location)
	if bucket == "" {
		return fmt.Errorf("stage location %q has no bucket", si.Location)
	}
	key := path.Join(prefix, si.Path, req.Descriptor.TargetPath)

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(si.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, si.Creds[credAWSToken])),
	)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, b.applyS3...)
	uploader := manager.NewUploader(client)

	ctx, span := b.tracer.Start(ctx, "stageupload.s3.put",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   req.Body,
	}
	if req.DisableCompression {
		input.ContentEncoding = aws.String("identity")
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		if isCredentialRejection(err) {
			return fmt.Errorf("%w: %v", ErrCredentialsRejected, err)
		}
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// isCredentialRejection maps the S3 error codes that indicate the scoped
// stage credentials are no longer accepted. Best-effort: anything not on
// this list is treated as a plain I/O failure.
func isCredentialRejection(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ExpiredToken", "ExpiredTokenException", "InvalidAccessKeyId",
		"AccessDenied", "TokenRefreshRequired", "SignatureDoesNotMatch":
		return true
	}
	return false
}

// splitStageLocation splits a stage location of the form
// "bucket/key/prefix" into its bucket and prefix parts.
func splitStageLocation(location string) (bucket, prefix string) {
	location = strings.TrimPrefix(location, "/")
	bucket, prefix, _ = strings.Cut(location, "/")
	return bucket, strings.TrimSuffix(prefix, "/")
}
