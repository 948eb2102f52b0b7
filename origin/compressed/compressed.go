// Package compressed decorates an origin.Reader whose remote bytes are
// zstd-compressed, decompressing each fetch before it reaches the block
// cache. It is for origins that store cached ranges in compressed form
// (e.g. an OCI layer blob); the cache itself always deals in plain bytes.
package compressed

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/blockcache/origin"
)

// Reader wraps an origin.Reader, decompressing each fetched range with a
// pooled zstd decoder before delivering it to the caller's buffer.
type Reader struct {
	inner origin.Reader
	pool  *sync.Pool
}

// New returns a Reader that decompresses everything inner fetches.
// maxWindow bounds the zstd decoder's window memory; zero means no limit.
func New(inner origin.Reader, maxWindow uint64) *Reader {
	r := &Reader{inner: inner}
	r.pool = &sync.Pool{
		New: func() any {
			dec, err := newDecoder(maxWindow)
			if err != nil {
				return nil
			}
			return dec
		},
	}
	return r
}

func newDecoder(maxWindow uint64) (*zstd.Decoder, error) {
	var opts []zstd.DOption
	if maxWindow > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(maxWindow))
	}
	return zstd.NewReader(nil, opts...)
}

// Read implements origin.Reader. It fetches the compressed range into a
// scratch buffer via a nested, block-scoped handler, then decompresses
// into buf once that inner fetch completes. offset/length address the
// compressed stream, not the decompressed block; a zstd frame is not
// independently seekable per block, so this decorator only makes sense
// in front of an origin that hands back one self-contained frame per
// fetch (e.g. a whole compressed layer blob), not arbitrary byte ranges
// of a larger compressed object.
func (r *Reader) Read(handler *origin.Handler, buf []byte, offset, length int64) {
	scratch := make([]byte, length)
	inner := origin.NewDirectHandler(1)
	r.inner.Read(inner, scratch, offset, length)

	go func() {
		if err := inner.Wait(); err != nil {
			handler.Done(0, fmt.Errorf("compressed: fetch compressed range: %w", err))
			return
		}
		n, err := r.decompress(scratch, buf)
		handler.Done(n, err)
	}()
}

func (r *Reader) decompress(compressed, dst []byte) (int, error) {
	value := r.pool.Get()
	dec, ok := value.(*zstd.Decoder)
	if !ok || dec == nil {
		var err error
		dec, err = newDecoder(0)
		if err != nil {
			return 0, fmt.Errorf("compressed: new decoder: %w", err)
		}
	}
	defer func() {
		_ = dec.Reset(nil)
		r.pool.Put(dec)
	}()

	if err := dec.Reset(newByteReader(compressed)); err != nil {
		return 0, fmt.Errorf("compressed: reset decoder: %w", err)
	}

	total := 0
	for total < len(dst) {
		n, err := dec.Read(dst[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return total, fmt.Errorf("compressed: decompress: %w", err)
		}
	}
	return total, nil
}

func newByteReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}

