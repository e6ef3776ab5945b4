// File: internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on every request that does not choose its own.
// Brotli is listed first since it usually compresses HTML best.
const AcceptEncoding = "br, gzip, deflate, identity"

// Pools for decompression readers. Collecting a page and then analyzing it
// decodes a body per fetch, so reusing decoder state keeps allocations down.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} {
			// A zero gzip.Reader is only valid after Reset, which getGzipReader
			// always calls before handing it out.
			return new(gzip.Reader)
		},
	}

	brotliReaderPool = sync.Pool{
		New: func() interface{} {
			// brotli.NewReader(nil) yields a reader that is ready for Reset.
			return brotli.NewReader(nil)
		},
	}
)

// emptyReader is shared by the put functions so returning a reader to its
// pool does not allocate.
var emptyReader = strings.NewReader("")

// getGzipReader takes a gzip reader from the pool and points it at r.
func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		// A failed Reset (bad header) leaves r partially consumed, but zr itself
		// is still reusable: the next Reset re-initializes all of its state.
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

// putGzipReader returns a gzip reader to the pool.
func putGzipReader(zr *gzip.Reader) {
	if zr == nil {
		return
	}
	// Resetting drops the reference to the old body. An empty reader is used
	// instead of nil because Reset reads a header; the resulting io.EOF is
	// expected and ignored.
	_ = zr.Reset(emptyReader)
	gzipReaderPool.Put(zr)
}

// getBrotliReader takes a Brotli reader from the pool and points it at r.
func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

// putBrotliReader returns a Brotli reader to the pool.
func putBrotliReader(br *brotli.Reader) {
	if br == nil {
		return
	}
	// brotli tolerates Reset(nil); the empty reader keeps both pools alike.
	_ = br.Reset(emptyReader)
	brotliReaderPool.Put(br)
}

// CompressionMiddleware is an http.RoundTripper that transparently handles
// response decompression for the fetcher. It adds an Accept-Encoding header
// to outgoing requests that don't set one, then decodes the response body
// according to the Content-Encoding the server answered with.
//
// gzip, brotli and deflate (both zlib-wrapped and raw) are supported. gzip and
// brotli readers come from sync.Pools.
type CompressionMiddleware struct {
	// Transport is the underlying http.RoundTripper that receives the request
	// once Accept-Encoding is set. If nil, http.DefaultTransport is used.
	Transport http.RoundTripper
}

// NewCompressionMiddleware creates a CompressionMiddleware wrapping transport.
// A nil transport defaults to http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper. It advertises compression support,
// sends the request through the wrapped transport and installs decoders on
// the response body.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	// A caller that picked its own encodings (or asked for identity) wins.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", AcceptEncoding)
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecompressResponse(resp); err != nil {
		// A decoder that failed to start may already have read from the body,
		// so the response can't be handed on. Close it to free the connection.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// closeWrapper closes a decoder together with the body it reads from and
// returns pooled decoders on Close.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
	// poolCallback runs once, on the first Close.
	poolCallback func()
}

func (w *closeWrapper) Close() error {
	if w.poolCallback != nil {
		w.poolCallback()
		w.poolCallback = nil // Prevent a second put on double Close.
	}

	// The decoder is closed first (a no-op for the NopCloser around brotli),
	// then the original body, which releases the transport's connection.
	return errors.Join(w.ReadCloser.Close(), w.originalBody.Close())
}

// DecompressResponse inspects the Content-Encoding header of resp and wraps
// resp.Body with one decoder per encoding layer. Layers are listed in the
// order the server applied them, so they are undone in reverse. Both repeated
// headers and comma-separated lists ("gzip, br") are understood.
//
// After a successful wrap the Content-Encoding and Content-Length headers are
// removed and resp.Uncompressed is set, so the fetcher's body-size limit and
// the analyzers see the decoded page.
//
// NOTE: if an error is returned, resp.Body may have been partially read and
// must be treated as corrupted. The caller closes it and discards resp.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encodings := contentEncodings(resp.Header)
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		var (
			reader       io.ReadCloser
			poolCallback func()
		)

		switch encodings[i] {
		case "gzip", "x-gzip":
			gz, err := getGzipReader(resp.Body)
			if err != nil {
				// A broken layer aborts the whole chain.
				return fmt.Errorf("gzip initialization error: %w", err)
			}
			reader = gz
			poolCallback = func() { putGzipReader(gz) }

		case "deflate":
			// tryDeflate buffers the stream head, so a failed zlib attempt
			// doesn't lose bytes for the raw deflate fallback.
			fl, err := tryDeflate(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate initialization error: %w", err)
			}
			reader = fl

		case "br":
			br, err := getBrotliReader(resp.Body)
			if err != nil {
				return fmt.Errorf("brotli initialization error: %w", err)
			}
			// brotli.Reader has no Close method.
			reader = io.NopCloser(br)
			poolCallback = func() { putBrotliReader(br) }

		case "identity", "":
			// Nothing to undo for this layer.
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encodings[i])
		}

		// The wrapped body becomes the input of the next (outer) layer.
		resp.Body = &closeWrapper{
			ReadCloser:   reader,
			originalBody: resp.Body,
			poolCallback: poolCallback,
		}
	}

	// Headers now describe the decoded body, whose length is unknown.
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// contentEncodings flattens both repeated headers and comma separated lists
// ("gzip, br") into one ordered, lowercased slice.
func contentEncodings(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Content-Encoding") {
		for _, part := range strings.Split(v, ",") {
			out = append(out, strings.ToLower(strings.TrimSpace(part)))
		}
	}
	return out
}

// --- Deflate Handling ---

// resettableReader buffers the head of a stream so a second decoder can
// start over after the first one rejects the header.
type resettableReader struct {
	r      io.Reader // The current reader: a tee at first, a multi after Reset.
	buf    *bytes.Buffer
	source io.Reader
}

func newResettableReader(r io.Reader) *resettableReader {
	// A zlib header is two bytes, so a small buffer is plenty.
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &resettableReader{r: io.TeeReader(r, buf), buf: buf, source: r}
}

func (rr *resettableReader) Read(p []byte) (int, error) { return rr.r.Read(p) }

// Reset replays the buffered bytes before the rest of the source.
func (rr *resettableReader) Reset() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// tryDeflate decodes zlib (RFC 1950) and falls back to raw deflate (RFC 1951),
// since servers send both under the same label.
func tryDeflate(r io.Reader) (io.ReadCloser, error) {
	rr := newResettableReader(r)

	// 1. Try the zlib wrapper.
	if zr, err := zlib.NewReader(rr); err == nil {
		return zr, nil
	}

	// 2. No valid zlib header: rewind and read it as raw deflate.
	rr.Reset()
	// flate.NewReader never fails at construction.
	return flate.NewReader(rr), nil
}
