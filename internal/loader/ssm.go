package loader

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

// ParameterGetter is the part of *ssm.Client the ssm loader uses.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM loads ssm:/name urls: the parameter's value becomes the body.
// SecureString parameters are decrypted. No type is declared.
type SSM struct {
	Client ParameterGetter
	// Allow lists parameter path prefixes; nil allows all.
	Allow []string
}

func (l *SSM) Load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	go l.load(ctx, data, s)
}

func (l *SSM) load(ctx context.Context, data resource.LoadData, s *resource.Sniffer) {
	md := resource.DefaultMetadata(data.URL)
	name := parameterName(data)
	if name == "" {
		fail(s, data, md, xerrors.Wrap(ErrBadURL, "ssm url needs a parameter name"))
		return
	}
	if !allowed(l.Allow, name) {
		md.Status, md.StatusText = http.StatusForbidden, http.StatusText(http.StatusForbidden)
		fail(s, data, md, xerrors.Wrapf(ErrNotAllowed, "parameter %s", name))
		return
	}

	out, err := l.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		err = xerrors.Mark(err, apiKind(err))
		md.Status = apiStatus(err)
		md.StatusText = http.StatusText(md.Status)
		fail(s, data, md, xerrors.Wrapf(err, "get parameter %s", name))
		return
	}
	if out.Parameter == nil {
		fail(s, data, md, xerrors.Newf("parameter %s has no value", name))
		return
	}

	ch := resource.StartSending(s, data.Next, md)
	_, err = sendChunks(ctx, bytes.NewReader([]byte(aws.ToString(out.Parameter.Value))), ch, 0)
	finish(ctx, ch, err)
}

// parameterName accepts ssm:/a/b, ssm:a/b and ssm://a/b (host becomes the
// first path element).
func parameterName(data resource.LoadData) string {
	u := data.URL
	if u == nil {
		return ""
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	p := u.Path
	if u.Host != "" {
		p = "/" + u.Host + p
	}
	if strings.Trim(p, "/") == "" {
		return ""
	}
	return p
}
