package loader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/mime"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// fakeS3 serves objects from a map keyed by bucket/key.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]*s3.GetObjectOutput
	bodies   map[string]string
	lastKey  string
	requests int
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.lastKey = k
	out, ok := f.objects[k]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}
	}
	cp := *out
	cp.Body = io.NopCloser(strings.NewReader(f.bodies[k]))
	return &cp, nil
}

type fakeSSM struct {
	params map[string]string
}

func (f *fakeSSM) GetParameter(ctx context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	v, ok := f.params[name]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "ParameterNotFound"}
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("decryption not requested")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

// S3

func TestS3_Object(t *testing.T) {
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeS3{
		objects: map[string]*s3.GetObjectOutput{
			"assets/img/logo": {
				ContentType:   aws.String("image/png"),
				ETag:          aws.String(`"abc123"`),
				LastModified:  &modified,
				ContentLength: aws.Int64(6),
			},
		},
		bodies: map[string]string{"assets/img/logo": "GIF89a"},
	}
	task := newTask(t, Options{S3: f})

	md, body, err := load(t, task, "s3://assets/img/logo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(body) != "GIF89a" {
		t.Fatalf("body = %q", body)
	}
	if md.Declared.String() != "image/png" || md.ContentType.String() != "image/gif" {
		t.Fatalf("declared %v resolved %v, want image/png then image/gif", md.Declared, md.ContentType)
	}
	if got := md.Headers.Get("ETag"); got != `"abc123"` {
		t.Errorf("ETag = %q", got)
	}
	if got := md.Headers.Get("Last-Modified"); got != "Sun, 01 Mar 2026 12:00:00 GMT" {
		t.Errorf("Last-Modified = %q", got)
	}
	if f.lastKey != "assets/img/logo" {
		t.Errorf("requested %q", f.lastKey)
	}
}

func TestS3_GzipObject(t *testing.T) {
	f := &fakeS3{
		objects: map[string]*s3.GetObjectOutput{
			"b/page.html": {
				ContentType:     aws.String("text/html"),
				ContentEncoding: aws.String("gzip"),
			},
		},
		bodies: map[string]string{"b/page.html": string(gzipped(t, []byte("<p>hi</p>")))},
	}
	task := newTask(t, Options{S3: f})
	md, body, err := load(t, task, "s3://b/page.html")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(body) != "<p>hi</p>" {
		t.Fatalf("body = %q", body)
	}
	if md.ContentType != mime.TextHTML {
		t.Fatalf("ContentType = %v", md.ContentType)
	}
	if md.Headers.Get("Content-Encoding") != "" {
		t.Fatal("Content-Encoding kept after decoding")
	}
}

func TestS3_NotFound(t *testing.T) {
	task := newTask(t, Options{S3: &fakeS3{}})
	md, _, err := load(t, task, "s3://b/missing")
	if err == nil {
		t.Fatal("missing object loaded")
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "NoSuchKey" {
		t.Fatalf("err = %v, want NoSuchKey", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if md.Status != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", md.Status)
	}
}

func TestS3_BadURL(t *testing.T) {
	f := &fakeS3{}
	task := newTask(t, Options{S3: f})
	for _, raw := range []string{"s3:///key", "s3://bucket", "s3://bucket/"} {
		if _, _, err := load(t, task, raw); !errors.Is(err, ErrBadURL) {
			t.Errorf("%s: err = %v, want ErrBadURL", raw, err)
		}
	}
	if f.requests != 0 {
		t.Fatalf("made %d requests for bad urls", f.requests)
	}
}

func TestAPIStatus(t *testing.T) {
	tests := []struct {
		err  error
		kind error
		want int
	}{
		{&smithy.GenericAPIError{Code: "NoSuchBucket"}, ErrNotFound, http.StatusNotFound},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, ErrAccessDenied, http.StatusForbidden},
		{&smithy.GenericAPIError{Code: "SlowDown"}, ErrThrottled, http.StatusTooManyRequests},
		{&smithy.GenericAPIError{Code: "InternalError"}, nil, http.StatusBadGateway},
		{errors.New("dial tcp: refused"), nil, http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := apiKind(tt.err); got != tt.kind {
			t.Errorf("apiKind(%v) = %v, want %v", tt.err, got, tt.kind)
		}
		if got := apiStatus(xerrors.Mark(tt.err, apiKind(tt.err))); got != tt.want {
			t.Errorf("apiStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// SSM

func TestSSM_Parameter(t *testing.T) {
	task := newTask(t, Options{SSM: &fakeSSM{params: map[string]string{"/fetch/banner": "hello"}}})
	for _, raw := range []string{"ssm:/fetch/banner", "ssm://fetch/banner"} {
		md, body, err := load(t, task, raw)
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if string(body) != "hello" {
			t.Fatalf("%s: body = %q", raw, body)
		}
		if md.ContentType != mime.TextPlain {
			t.Fatalf("%s: ContentType = %v, want text/plain", raw, md.ContentType)
		}
		if !md.Declared.IsZero() {
			t.Fatalf("%s: Declared = %v, want none", raw, md.Declared)
		}
	}

	// values carry no declared type, so markup sniffs as markup
	page := &fakeSSM{params: map[string]string{"/fetch/page": "<html><body>hi</body></html>"}}
	md, _, err := load(t, newTask(t, Options{SSM: page}), "ssm:/fetch/page")
	if err != nil {
		t.Fatalf("load page: %v", err)
	}
	if md.ContentType != mime.TextHTML {
		t.Fatalf("ContentType = %v, want text/html", md.ContentType)
	}

	// opaque names are used as given
	if _, _, err := load(t, task, "ssm:fetch/banner"); err == nil {
		t.Fatal("found a parameter without the leading slash")
	}
}

func TestSSM_NotFound(t *testing.T) {
	task := newTask(t, Options{SSM: &fakeSSM{}})
	md, _, err := load(t, task, "ssm:/nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if md.Status != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", md.Status)
	}
}

func TestParameterName(t *testing.T) {
	task := newTask(t, Options{SSM: &fakeSSM{}})
	if _, _, err := load(t, task, "ssm:/"); !errors.Is(err, ErrBadURL) {
		t.Fatalf("err = %v, want ErrBadURL", err)
	}
}
