package loader

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

const defaultDataType = "text/plain;charset=US-ASCII"

// Data loads RFC 2397 data: urls.
type Data struct{}

func (Data) Load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	go func() {
		md := resource.DefaultMetadata(data.URL)
		contentType, body, err := parseDataURL(data.URL)
		if err != nil {
			fail(s, data, md, err)
			return
		}
		md.SetContentType(contentType)
		if md.ContentType.IsZero() {
			md.SetContentType(defaultDataType)
		}

		ch := resource.StartSending(s, data.Next, md)
		_, err = sendChunks(ctx, bytes.NewReader(body), ch, 0)
		finish(ctx, ch, err)
	}()
}

// parseDataURL splits a data url into its media type and decoded body.
// The fragment is not part of the data.
func parseDataURL(u *url.URL) (string, []byte, error) {
	if u == nil {
		return "", nil, ErrBadURL
	}
	raw := u.Opaque
	if raw == "" {
		c := *u
		c.Fragment, c.RawFragment = "", ""
		raw = strings.TrimPrefix(c.String(), c.Scheme+":")
	} else if u.RawQuery != "" || u.ForceQuery {
		// '?' is data, not a query separator
		raw += "?" + u.RawQuery
	}

	meta, enc, ok := strings.Cut(raw, ",")
	if !ok {
		return "", nil, xerrors.Wrap(ErrBadURL, "data url has no comma")
	}

	meta = strings.TrimSpace(meta)
	isBase64 := false
	if i := strings.LastIndexByte(meta, ';'); i >= 0 && strings.EqualFold(strings.TrimSpace(meta[i+1:]), "base64") {
		isBase64 = true
		meta = meta[:i]
	}

	mediaType, err := url.PathUnescape(meta)
	if err != nil {
		return "", nil, xerrors.Wrap(err, "data url media type")
	}
	switch {
	case mediaType == "":
		mediaType = defaultDataType
	case strings.HasPrefix(mediaType, ";"):
		mediaType = "text/plain" + mediaType
	}

	body, err := url.PathUnescape(enc)
	if err != nil {
		return "", nil, xerrors.Wrap(err, "data url body")
	}
	if !isBase64 {
		return mediaType, []byte(body), nil
	}

	b64 := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			return -1
		}
		return r
	}, body)
	dec, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		dec, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(b64, "="))
		if err != nil {
			return "", nil, xerrors.Wrap(err, "data url base64")
		}
	}
	return mediaType, dec, nil
}
