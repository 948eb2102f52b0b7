// Package oras implements an origin.Reader that serves ranged reads of
// one OCI registry blob, addressed by digest, through oras-go's
// authenticated remote.Repository transport.
package oras

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/blockcache/origin"
)

// Reader fetches byte ranges of a single blob within one repository
// reference, e.g. "registry.example.com/library/image", identified by
// its content digest rather than a tag.
type Reader struct {
	repo   *remote.Repository
	digest digest.Digest
}

// Option configures a Reader.
type Option func(*remote.Repository)

// WithPlainHTTP disables TLS for the registry connection, for local test
// registries.
func WithPlainHTTP() Option {
	return func(r *remote.Repository) { r.PlainHTTP = true }
}

// New returns a Reader for the blob identified by dgst within repoRef
// (e.g. "ghcr.io/org/name"). credStore is consulted for registry
// credentials; pass nil for anonymous access.
func New(repoRef string, dgst digest.Digest, credStore credentials.Store, opts ...Option) (*Reader, error) {
	if _, err := registry.ParseReference(repoRef + "@" + dgst.String()); err != nil {
		return nil, fmt.Errorf("originimpl/oras: parse reference %q: %w", repoRef, err)
	}

	repo, err := remote.NewRepository(repoRef)
	if err != nil {
		return nil, fmt.Errorf("originimpl/oras: new repository %q: %w", repoRef, err)
	}

	authClient := &auth.Client{Client: http.DefaultClient, Cache: auth.NewCache()}
	if credStore != nil {
		authClient.Credential = func(ctx context.Context, hostport string) (auth.Credential, error) {
			return credStore.Get(ctx, hostport)
		}
	}
	repo.Client = authClient

	for _, opt := range opts {
		opt(repo)
	}

	return &Reader{repo: repo, digest: dgst}, nil
}

// Read implements origin.Reader, issuing a ranged fetch of the blob via
// oras-go's Fetch and copying at most length bytes starting at offset
// into buf.
func (r *Reader) Read(handler *origin.Handler, buf []byte, offset, length int64) {
	go func() {
		n, err := r.fetchRange(buf, offset, length)
		handler.Done(n, err)
	}()
}

func (r *Reader) fetchRange(buf []byte, offset, length int64) (int, error) {
	blobs := r.repo.Blobs()
	_, rc, err := blobs.FetchReference(context.Background(), r.digest.String())
	if err != nil {
		return 0, fmt.Errorf("originimpl/oras: fetch blob %s: %w", r.digest, err)
	}
	defer rc.Close()

	if seeker, ok := rc.(io.Seeker); ok {
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			return 0, fmt.Errorf("originimpl/oras: seek blob %s to %d: %w", r.digest, offset, err)
		}
		return readRange(rc, buf, length)
	}

	if _, err := io.CopyN(io.Discard, rc, offset); err != nil {
		return 0, fmt.Errorf("originimpl/oras: skip to offset %d in blob %s: %w", offset, r.digest, err)
	}
	return readRange(rc, buf, length)
}

func readRange(r io.Reader, buf []byte, length int64) (int, error) {
	want := buf[:length]
	n, err := io.ReadFull(r, want)
	if err != nil {
		return n, fmt.Errorf("originimpl/oras: short read (%d of %d): %w", n, length, err)
	}
	return n, nil
}
