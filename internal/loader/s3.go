package loader

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// ObjectGetter is the part of *s3.Client the s3 loader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 loads s3://bucket/key urls. The object's stored Content-Type is the
// declared type.
type S3 struct {
	Client   ObjectGetter
	MaxBytes int64
	// Allow lists buckets or bucket/prefix entries; nil allows all.
	Allow []string
}

func (l *S3) Load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	go l.load(ctx, data, s)
}

func (l *S3) load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	md := resource.DefaultMetadata(data.URL)
	bucket, key, err := parseS3URL(data)
	if err != nil {
		fail(s, data, md, err)
		return
	}
	if !allowed(l.Allow, bucket+"/"+key) {
		md.Status, md.StatusText = http.StatusForbidden, http.StatusText(http.StatusForbidden)
		fail(s, data, md, xerrors.Wrapf(ErrNotAllowed, "s3://%s/%s", bucket, key))
		return
	}

	out, err := l.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = xerrors.Mark(err, apiKind(err))
		md.Status = apiStatus(err)
		md.StatusText = http.StatusText(md.Status)
		log.FromContext(ctx).Debug(ctx, "s3 get object failed", "bucket", bucket, "key", key, "status", md.Status)
		fail(s, data, md, xerrors.Wrapf(err, "get s3://%s/%s", bucket, key))
		return
	}
	defer out.Body.Close()

	md.Headers = objectHeaders(out)
	md.SetContentType(aws.ToString(out.ContentType))

	body, decoded, err := decodeBody(out.Body, aws.ToString(out.ContentEncoding), false)
	if err != nil {
		fail(s, data, md, xerrors.Wrap(err, "decode object"))
		return
	}
	defer body.Close()
	if decoded {
		md.Headers.Del("Content-Encoding")
		md.Headers.Del("Content-Length")
	}

	ch := resource.StartSending(s, data.Next, md)
	_, err = sendChunks(ctx, body, ch, l.MaxBytes)
	finish(ctx, ch, err)
}

func parseS3URL(data resource.LoadData) (bucket, key string, err error) {
	u := data.URL
	if u == nil || u.Host == "" {
		return "", "", xerrors.Wrap(ErrBadURL, "s3 url needs a bucket")
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", xerrors.Wrap(ErrBadURL, "s3 url needs a key")
	}
	return u.Host, key, nil
}

func objectHeaders(out *s3.GetObjectOutput) http.Header {
	h := make(http.Header)
	if v := aws.ToString(out.ContentType); v != "" {
		h.Set("Content-Type", v)
	}
	if v := aws.ToString(out.ContentEncoding); v != "" {
		h.Set("Content-Encoding", v)
	}
	if v := aws.ToString(out.ETag); v != "" {
		h.Set("ETag", v)
	}
	if out.LastModified != nil {
		h.Set("Last-Modified", out.LastModified.UTC().Format(http.TimeFormat))
	}
	if out.ContentLength != nil {
		h.Set("Content-Length", strconv.FormatInt(*out.ContentLength, 10))
	}
	return h
}

// apiKind classifies an AWS API error code. Codes with no kind give nil.
func apiKind(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NoSuchBucket", "NotFound", "ParameterNotFound":
		return ErrNotFound
	case "AccessDenied", "Forbidden", "AccessDeniedException":
		return ErrAccessDenied
	case "SlowDown", "Throttling", "ThrottlingException":
		return ErrThrottled
	default:
		return nil
	}
}

// apiStatus maps an error marked by apiKind onto an http status.
func apiStatus(err error) int {
	switch xerrors.Kind(err, ErrNotFound, ErrAccessDenied, ErrThrottled) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAccessDenied:
		return http.StatusForbidden
	case ErrThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
