// Package webassets holds the html served for about: urls.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed pages
var embedded embed.FS

// PagesFS returns the embedded pages directory.
func PagesFS() fs.FS {
	sub, err := fs.Sub(embedded, "pages")
	if err != nil {
		panic(fmt.Errorf("webassets: pages subfs: %w", err))
	}
	return sub
}

// AboutPage returns the body for about:<name>. about:blank is empty; unknown
// names report false.
func AboutPage(name string) ([]byte, bool) {
	name = strings.ToLower(name)
	if name == "blank" {
		return []byte{}, true
	}
	if name == "" || strings.ContainsAny(name, "/.") {
		return nil, false
	}
	b, err := fs.ReadFile(PagesFS(), name+".html")
	if err != nil {
		return nil, false
	}
	return b, true
}
