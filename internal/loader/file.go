package loader

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

var (
	ErrNotRegularFile = errors.New("not a regular file")
	ErrRemoteFile     = errors.New("file url names a remote host")
)

// File loads file: urls from the local filesystem. Nothing is declared;
// the sniffer decides the type.
type File struct {
	// Root confines loads to one directory; the url path is taken relative
	// to it.
	Root     string
	MaxBytes int64
}

func (l *File) Load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	go l.load(ctx, data, s)
}

func (l *File) load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	md := resource.DefaultMetadata(data.URL)

	f, err := l.open(data)
	if err != nil {
		log.FromContext(ctx).Debug(ctx, "file load failed", "err", err)
		fail(s, data, md, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fail(s, data, md, xerrors.Wrap(err, "stat"))
		return
	}
	if !info.Mode().IsRegular() {
		fail(s, data, md, ErrNotRegularFile)
		return
	}

	ch := resource.StartSending(s, data.Next, md)
	_, err = sendChunks(ctx, f, ch, l.MaxBytes)
	finish(ctx, ch, err)
}

func (l *File) open(data resource.LoadData) (*os.File, error) {
	u := data.URL
	if u == nil {
		return nil, ErrBadURL
	}
	if u.Host != "" && !strings.EqualFold(u.Host, "localhost") {
		return nil, ErrRemoteFile
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if err := pathutil.Check(p); err != nil {
		return nil, xerrors.Wrapf(xerrors.Mark(err, ErrBadURL), "file path %q", p)
	}

	if l.Root == "" {
		f, err := os.Open(filepath.FromSlash(p))
		if err != nil {
			return nil, xerrors.Wrap(err, "open")
		}
		return f, nil
	}

	root, err := os.OpenRoot(l.Root)
	if err != nil {
		return nil, xerrors.Wrap(err, "open root")
	}
	defer root.Close()

	rel := pathutil.Relative(p)
	if rel == "" {
		return nil, xerrors.Wrap(fs.ErrNotExist, "open")
	}
	f, err := root.Open(filepath.FromSlash(rel))
	if err != nil {
		return nil, xerrors.Wrap(err, "open")
	}
	return f, nil
}
