package assets

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LogoStore fetches organization branding images from an S3-compatible
// bucket (the managed storage of the hosted stack exposes one).
type LogoStore struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

var errNotConfigured = errors.New("logo bucket not configured")

func (l *LogoStore) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(l.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			l.AccessKey,
			l.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if l.Endpoint != "" {
			o.BaseEndpoint = aws.String(l.Endpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// Logo returns the PNG bytes for an organization, keyed logos/{orgID}.png.
func (l *LogoStore) Logo(ctx context.Context, orgID string) ([]byte, error) {
	if l.Bucket == "" {
		return nil, errNotConfigured
	}

	client, err := l.getClient(ctx)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("logos/%s.png", orgID)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}
