package loader

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/mime"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/pathutil"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFile_AbsolutePath(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "image.bin", pngHeader)
	task := newTask(t, Options{})

	md, body, err := load(t, task, "file://"+filepath.ToSlash(p))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(body, pngHeader) {
		t.Fatalf("body = %q", body)
	}
	if md.ContentType != mime.MustParse("image/png") {
		t.Fatalf("ContentType = %v, want image/png", md.ContentType)
	}
	if !md.Declared.IsZero() {
		t.Fatalf("Declared = %v, want nothing", md.Declared)
	}
}

func TestFile_Root(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sub/page.html", []byte("<!DOCTYPE html><p>hi"))
	task := newTask(t, Options{FileRoot: dir})

	md, body, err := load(t, task, "file:///sub/page.html")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(body) != "<!DOCTYPE html><p>hi" {
		t.Fatalf("body = %q", body)
	}
	if md.ContentType != mime.TextHTML {
		t.Fatalf("ContentType = %v, want text/html", md.ContentType)
	}
}

func TestFile_RootRejectsEscape(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	writeFile(t, parent, "secret.txt", []byte("secret"))
	writeFile(t, root, "ok.txt", []byte("ok"))
	task := newTask(t, Options{FileRoot: root})

	for _, raw := range []string{"file:///../secret.txt", "file:///./ok.txt"} {
		_, _, err := load(t, task, raw)
		if !errors.Is(err, ErrBadURL) {
			t.Errorf("%s: err = %v, want ErrBadURL", raw, err)
		}
		if !errors.Is(err, pathutil.ErrDotSegment) {
			t.Errorf("%s: err = %v, want ErrDotSegment in chain", raw, err)
		}
	}
}

func TestFile_RootRejectsSymlinkEscape(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	writeFile(t, parent, "secret.txt", []byte("secret"))
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(parent, "secret.txt"), filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink: %v", err)
	}
	task := newTask(t, Options{FileRoot: root})
	if _, _, err := load(t, task, "file:///link"); err == nil {
		t.Fatal("symlink out of root was followed")
	}
}

func TestFile_NotFound(t *testing.T) {
	task := newTask(t, Options{FileRoot: t.TempDir()})
	md, _, err := load(t, task, "file:///missing.txt")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
	if md.FinalURL == nil || md.FinalURL.Path != "/missing.txt" {
		t.Fatalf("FinalURL = %v", md.FinalURL)
	}
}

func TestFile_Directory(t *testing.T) {
	dir := t.TempDir()
	task := newTask(t, Options{})
	if _, _, err := load(t, task, "file://"+filepath.ToSlash(dir)); !errors.Is(err, ErrNotRegularFile) {
		t.Fatalf("err = %v, want ErrNotRegularFile", err)
	}
}

func TestFile_RemoteHost(t *testing.T) {
	task := newTask(t, Options{})
	if _, _, err := load(t, task, "file://server/share/a.txt"); !errors.Is(err, ErrRemoteFile) {
		t.Fatalf("err = %v, want ErrRemoteFile", err)
	}
}

func TestFile_MaxBytes(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "big.txt", bytes.Repeat([]byte("a"), 200))
	task := newTask(t, Options{MaxBodyBytes: 100})
	if _, _, err := load(t, task, "file://"+filepath.ToSlash(p)); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}
