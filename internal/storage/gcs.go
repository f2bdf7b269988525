// Package storage uploads delivery proof images to Cloud Storage and hands
// back Firebase-style download URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

var ErrUnsupportedType = errors.New("unsupported image type")

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// ProofStore persists a proof image for a tracking step and returns its URL.
// Delete removes an image previously returned by Put.
type ProofStore interface {
	Put(ctx context.Context, stepID uint64, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, imageURL string) error
}

// SupportedImage reports whether contentType is an accepted proof image type.
func SupportedImage(contentType string) bool {
	_, ok := imageExtensions[contentType]
	return ok
}

type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore connects to the bucket. Without a credentials file the client
// uses application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("proof bucket is not set")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, storage.ScopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, stepID uint64, contentType string, r io.Reader) (string, error) {
	objectPath, err := ObjectPath(stepID, contentType, uuid.NewString())
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{
		"firebaseStorageDownloadTokens": token,
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return DownloadURL(s.bucket, objectPath, token), nil
}

// Delete removes the object behind imageURL. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, imageURL string) error {
	objectPath, err := ObjectPathFromURL(s.bucket, imageURL)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.bucket).Object(objectPath).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// ObjectPath names the object holding one proof image of a step.
func ObjectPath(stepID uint64, contentType, name string) (string, error) {
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return fmt.Sprintf("tracking/steps/%d/%s.%s", stepID, name, ext), nil
}

func DownloadURL(bucket, objectPath, token string) string {
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucket, url.PathEscape(objectPath), token)
}

// ObjectPathFromURL recovers the object path from a download URL built by
// DownloadURL for the same bucket.
func ObjectPathFromURL(bucket, imageURL string) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "", err
	}
	prefix := "/v0/b/" + bucket + "/o/"
	escaped := u.EscapedPath()
	if !strings.HasPrefix(escaped, prefix) || len(escaped) == len(prefix) {
		return "", fmt.Errorf("not a download url of bucket %q: %s", bucket, imageURL)
	}
	return url.PathUnescape(strings.TrimPrefix(escaped, prefix))
}
