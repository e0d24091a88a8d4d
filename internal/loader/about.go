package loader

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/webassets"
)

var ErrNoAboutPage = errors.New("no such about page")

// About serves about:blank and the embedded about pages as text/html.
type About struct{}

func (About) Load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	go func() {
		md := resource.DefaultMetadata(data.URL)
		var name string
		if data.URL != nil {
			name = data.URL.Opaque
			if name == "" {
				name = strings.TrimPrefix(data.URL.Path, "/")
			}
		}
		page, ok := webassets.AboutPage(name)
		if !ok {
			fail(s, data, md, ErrNoAboutPage)
			return
		}
		md.SetContentType("text/html; charset=utf-8")

		ch := resource.StartSending(s, data.Next, md)
		_, err := sendChunks(ctx, bytes.NewReader(page), ch, 0)
		finish(ctx, ch, err)
	}()
}
