package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// AcceptEncoding lists the content codings the http loader can decode.
const AcceptEncoding = "gzip, deflate, br, zstd"

var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// decodedBody reads through a chain of decoders and closes them outermost
// first.
type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type zstdCloser struct {
	*zstd.Decoder
}

func (z zstdCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// decodeBody wraps body in decoders for a Content-Encoding header value.
// Codings are listed in the order they were applied, so they are undone
// right to left. The bool reports whether any decoding happens. On error
// body is left open.
func decodeBody(body io.ReadCloser, header string, parallelGzip bool) (io.ReadCloser, bool, error) {
	codings := parseCodings(header)
	if len(codings) == 0 {
		return body, false, nil
	}

	for _, c := range codings {
		if !supportedCoding(c) {
			return nil, false, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, c)
		}
	}

	// 204, 304 and HEAD responses keep the coding header but have no
	// bytes, and the gzip readers fail on a missing header
	br := bufio.NewReader(body)
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		return body, false, nil
	}

	d := &decodedBody{Reader: br, closers: []io.Closer{body}}
	for i := len(codings) - 1; i >= 0; i-- {
		rc, err := openDecoder(d.Reader, codings[i], parallelGzip)
		if err != nil {
			// close only what was opened on top of body
			(&decodedBody{closers: d.closers[1:]}).Close()
			return nil, false, err
		}
		d.Reader = rc
		d.closers = append(d.closers, rc)
	}
	return d, true, nil
}

func supportedCoding(c string) bool {
	switch c {
	case "gzip", "x-gzip", "deflate", "br", "zstd":
		return true
	}
	return false
}

func parseCodings(header string) []string {
	var out []string
	for _, c := range strings.Split(header, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || c == "identity" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func openDecoder(r io.Reader, coding string, parallelGzip bool) (io.ReadCloser, error) {
	switch coding {
	case "gzip", "x-gzip":
		if parallelGzip {
			return pgzip.NewReader(r)
		}
		return gzip.NewReader(r)
	case "deflate":
		return openDeflate(r)
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdCloser{zr}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, coding)
	}
}

// openDeflate accepts both zlib-wrapped and raw deflate streams; servers
// send either for "deflate".
func openDeflate(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	hdr, err := br.Peek(2)
	if err != nil && len(hdr) < 2 {
		if errors.Is(err, io.EOF) {
			return io.NopCloser(br), nil
		}
		return nil, err
	}
	if isZlibHeader(hdr[0], hdr[1]) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

// isZlibHeader checks the CMF/FLG pair from RFC 1950: deflate method and a
// header checksum divisible by 31.
func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
