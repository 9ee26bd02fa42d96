package partstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/strata/utils"
)

type (
	// S3PartStore keeps partition files in an S3 bucket under
	// <prefix>/<path>/<name>
	S3PartStore struct {
		bucket  string
		prefix  string
		session *session.Session
	}
)

func NewS3PartStore(prefix string) (*S3PartStore, error) {
	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}
	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	return &S3PartStore{
		bucket:  utils.S3_BUCKET_NAME,
		prefix:  strings.TrimSuffix(prefix, "/"),
		session: s3Session,
	}, nil
}

func (ps *S3PartStore) key(path, name string) string {
	parts := []string{ps.prefix, path, name}
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

func (ps *S3PartStore) WriteFile(ctx context.Context, path, name string, r io.Reader) error {
	// buffer so retries can re-send the body
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("error reading part body: %w", err)
	}
	uploader := s3manager.NewUploader(ps.session)
	op := func() error {
		s := time.Now()
		_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(ps.bucket),
			Key:    aws.String(ps.key(path, name)),
			Body:   bytes.NewReader(body),
		})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("error uploading to s3: %w", err)
		}
		logger.Debug().Str("key", ps.key(path, name)).Int("bytes", len(body)).Int64("durationNS", time.Since(s).Nanoseconds()).Msg("uploaded part file to s3")
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

func (ps *S3PartStore) ReadFile(ctx context.Context, path, name string) (io.ReadCloser, error) {
	downloader := s3manager.NewDownloader(ps.session)
	var buf []byte
	op := func() error {
		w := aws.NewWriteAtBuffer(nil)
		_, err := downloader.DownloadWithContext(ctx, w, &s3.GetObjectInput{
			Bucket: aws.String(ps.bucket),
			Key:    aws.String(ps.key(path, name)),
		})
		if err != nil {
			if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
				return backoff.Permanent(utils.PermError("part file not found: " + ps.key(path, name)))
			}
			return fmt.Errorf("error downloading from s3: %w", err)
		}
		buf = w.Bytes()
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (ps *S3PartStore) List(ctx context.Context, path string) ([]string, error) {
	client := s3.New(ps.session)
	prefix := ps.key(path, "")
	if prefix != "" {
		prefix += "/"
	}
	var names []string
	err := client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(ps.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(*obj.Key, prefix))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("error in ListObjectsV2Pages: %w", err)
	}
	return names, nil
}

func (ps *S3PartStore) Shutdown(_ context.Context) error {
	return nil
}
