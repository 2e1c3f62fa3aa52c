package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

const (
	// MinPartSize is the smallest part S3 accepts in a multipart upload.
	MinPartSize int64 = 5 * 1024 * 1024

	// maxDeleteKeys is the DeleteObjects limit per request.
	maxDeleteKeys = 1000
)

// Store keeps snapshot objects in the client's bucket.
type Store struct {
	api    *s3.Client
	bucket string
}

// NewStore returns a Store on c's bucket.
func NewStore(c *Client) *Store {
	return &Store{api: c.api, bucket: c.bucket}
}

// Put uploads a snapshot in one PutObject request.
func (s *Store) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads a large snapshot through the transfer manager.
// partSize is raised to MinPartSize when smaller.
func (s *Store) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(s.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, MinPartSize)
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(SnapshotContentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}

// Get opens a snapshot for reading. The caller closes the body.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// List returns every object under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(strings.Trim(prefix, "/") + "/"),
	})

	var infos []domain.BlobInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, domain.BlobInfo{
				Path:         aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return infos, nil
}

// Delete removes paths in batches of up to 1000 keys. Keys that fail to
// delete are reported together in one error.
func (s *Store) Delete(ctx context.Context, paths ...string) error {
	var errs []error
	for start := 0; start < len(paths); start += maxDeleteKeys {
		chunk := paths[start:min(start+maxDeleteKeys, len(paths))]

		ids := make([]types.ObjectIdentifier, len(chunk))
		for i, p := range chunk {
			ids[i] = types.ObjectIdentifier{Key: aws.String(p)}
		}
		out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3blob: delete %d objects: %w", len(chunk), err)
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("%s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("s3blob: delete: %w", errors.Join(errs...))
	}
	return nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404 responses from
// S3-compatible providers.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var status interface{ HTTPStatusCode() int }
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return true
	case errors.As(err, &status):
		return status.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

var _ domain.SnapshotStore = (*Store)(nil)
