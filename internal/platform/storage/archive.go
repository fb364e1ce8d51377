package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultSignedURLTTL = 10 * time.Minute
	maxSignedURLTTL     = 15 * time.Minute
)

var (
	// ErrNotFound is returned when the archived object does not exist.
	ErrNotFound = errors.New("storage: object not found")

	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// Archive writes JSON documents to one bucket and hands out signed download URLs for them.
type Archive struct {
	bucket *gcs.BucketHandle
	name   string
	signer Signer
	ttl    time.Duration
	now    func() time.Time
}

// ArchiveOption customises an Archive.
type ArchiveOption func(*Archive)

// WithSigner signs URLs with an explicit key. Without one the client's credentials are used,
// which on Cloud Run means IAM signBlob for the runtime service account.
func WithSigner(signer Signer) ArchiveOption {
	return func(a *Archive) { a.signer = signer }
}

// WithSignedURLTTL bounds download links. Values above 15 minutes are clamped.
func WithSignedURLTTL(ttl time.Duration) ArchiveOption {
	return func(a *Archive) {
		if ttl > 0 {
			a.ttl = min(ttl, maxSignedURLTTL)
		}
	}
}

// WithClock injects the time source used for expiry.
func WithClock(now func() time.Time) ArchiveOption {
	return func(a *Archive) {
		if now != nil {
			a.now = now
		}
	}
}

func NewArchive(client *gcs.Client, bucket string, opts ...ArchiveOption) (*Archive, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	a := &Archive{
		bucket: client.Bucket(bucket),
		name:   bucket,
		ttl:    defaultSignedURLTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Bucket returns the bucket name.
func (a *Archive) Bucket() string { return a.name }

// PutJSON overwrites object with the JSON encoding of value.
func (a *Archive) PutJSON(ctx context.Context, object string, value any, metadata map[string]string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return errInvalidObject
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", object, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := a.bucket.Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "private, max-age=0, no-store"
	w.Metadata = metadata
	w.ChunkSize = 0
	if _, err := w.Write(payload); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", object, err)
	}
	return nil
}

// Exists reports whether object is present.
func (a *Archive) Exists(ctx context.Context, object string) (bool, error) {
	_, err := a.bucket.Object(object).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", object, err)
	}
	return true, nil
}

// SignedURL is a V4 GET link for an archived object.
type SignedURL struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// SignedGetURL signs a download URL for object. Signing happens locally, so it does not check
// that the object exists.
func (a *Archive) SignedGetURL(ctx context.Context, object string) (SignedURL, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURL{}, errInvalidObject
	}
	expires := a.now().Add(a.ttl)
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	}
	if a.signer != nil && a.signer.Email() != "" {
		opts.GoogleAccessID = a.signer.Email()
		opts.SignBytes = func(payload []byte) ([]byte, error) {
			return a.signer.SignBytes(ctx, payload)
		}
	}
	url, err := a.bucket.SignedURL(object, opts)
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign %s: %w", object, err)
	}
	return SignedURL{URL: url, Method: http.MethodGet, ExpiresAt: expires}, nil
}
