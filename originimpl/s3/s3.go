// Package s3 implements an origin.Reader backed by an S3-compatible
// object store, using ranged GetObject calls. It provides no
// origin.Backend: S3 is the remote side of the cache, not where blocks
// land once fetched, and the daemon uses origin.OSBackend for that.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/meigma/blockcache/origin"
)

// API is the subset of the S3 client used for ranged reads, narrowed so
// tests can supply a fake.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Reader fetches byte ranges of one S3 object, retrying transient
// failures with exponential backoff.
type Reader struct {
	api        API
	bucket     string
	key        string
	maxRetries uint64
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxRetries bounds the number of retry attempts per Read. Zero means
// unbounded (backoff.WithMaxRetries is not applied).
func WithMaxRetries(n uint64) Option {
	return func(r *Reader) { r.maxRetries = n }
}

// New returns a Reader fetching ranges of bucket/key through api.
func New(api API, bucket, key string, opts ...Option) *Reader {
	r := &Reader{api: api, bucket: bucket, key: key, maxRetries: 5}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read implements origin.Reader. It runs the fetch and retry loop on its
// own goroutine and always completes handler asynchronously, per the
// Reader contract.
func (r *Reader) Read(handler *origin.Handler, buf []byte, offset, length int64) {
	go func() {
		n, err := r.fetchWithRetry(buf, offset, length)
		handler.Done(n, err)
	}()
}

func (r *Reader) fetchWithRetry(buf []byte, offset, length int64) (int, error) {
	var n int
	op := func() error {
		got, err := r.fetchOnce(buf, offset, length)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		n = got
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	var bo backoff.BackOff = b
	if r.maxRetries > 0 {
		bo = backoff.WithMaxRetries(b, r.maxRetries)
	}
	if err := backoff.Retry(op, bo); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Reader) fetchOnce(buf []byte, offset, length int64) (int, error) {
	rangeHdr := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := r.api.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(rangeHdr),
	})
	if err != nil {
		return 0, fmt.Errorf("originimpl/s3: get %s/%s range %s: %w", r.bucket, r.key, rangeHdr, err)
	}
	defer out.Body.Close()

	want := buf[:length]
	n, err := io.ReadFull(out.Body, want)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, fmt.Errorf("originimpl/s3: read body: %w", err)
	}
	return n, nil
}

// isRetryable classifies an S3/network error as worth another attempt,
// grounded on the same throttling/5xx/timeout taxonomy used for other
// object-store backends in this codebase's ancestry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException", "InternalError",
			"ServiceUnavailable", "ServiceException", "InternalServiceException":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden",
			"InvalidRange", "InvalidRequest":
			return false
		}
	}

	msg := err.Error()
	for _, pattern := range []string{"connection reset", "connection refused", "i/o timeout", "temporary failure", "503", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
