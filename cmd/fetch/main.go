// Command fetch loads one url through the resource pipeline and reports
// what the sniffer made of it.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/loader"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/log"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/resource"
	v "github.com/keithlinneman/linnemanlabs-fetch/internal/version"
	"github.com/keithlinneman/linnemanlabs-fetch/internal/xerrors"
)

type options struct {
	out       string
	asJSON    bool
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	fileRoot  string
	aws       bool
	verbose   bool
}

// Result is what --json prints.
type Result struct {
	URL      string `json:"url"`
	FinalURL string `json:"final_url"`
	Type     string `json:"type"`
	Declared string `json:"declared,omitempty"`
	Charset  string `json:"charset,omitempty"`
	Status   int    `json:"status"`
	Bytes    int64  `json:"bytes"`
	SHA256   string `json:"sha256"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "fetch [flags] <url>",
		Short: "Load one url and report its resolved content type",
		Long: `Load a url through the same loaders and sniffer as fetchd and print the
resolved content type, charset, upstream status, byte count and SHA-256.

Examples:
  fetch https://example.com/
  fetch -o page.html --json https://example.com/
  fetch --aws s3://bucket/key`,
		Args:         cobra.ExactArgs(1),
		Version:      v.Get().String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o, args[0], cmd.OutOrStdout())
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.SetErrPrefix("fetch:")

	f := cmd.Flags()
	f.StringVarP(&o.out, "output", "o", "", "write the body to this file (- for stdout)")
	f.BoolVar(&o.asJSON, "json", false, "print the result as JSON")
	f.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall timeout")
	f.Int64Var(&o.maxBytes, "max-body-bytes", loader.DefaultMaxBodyBytes, "largest body to accept (-1 = unlimited)")
	f.StringVar(&o.userAgent, "user-agent", "", "User-Agent for http loads")
	f.StringVar(&o.fileRoot, "file-root", "", "confine file: urls to this directory")
	f.BoolVar(&o.aws, "aws", false, "enable the s3: and ssm: loaders")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging to stderr")
	return cmd
}

func run(ctx context.Context, o options, raw string, stdout io.Writer) error {
	u, err := url.Parse(raw)
	if err != nil {
		return xerrors.Wrap(err, "parse url")
	}
	if u.Scheme == "" {
		return xerrors.Newf("url %q has no scheme", raw)
	}

	L := log.Nop()
	if o.verbose {
		L, err = log.New(log.Options{
			App:       v.AppName,
			Component: "fetch",
			Level:     slog.LevelDebug,
			Writer:    os.Stderr,
		})
		if err != nil {
			return err
		}
	}
	ctx = log.WithContext(ctx, L)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	lopts := loader.Options{
		Logger:       L,
		Timeout:      o.timeout,
		MaxBodyBytes: o.maxBytes,
		FileRoot:     o.fileRoot,
	}
	if o.aws {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return xerrors.Wrap(err, "load aws config")
		}
		lopts.S3 = s3.NewFromConfig(awsCfg)
		lopts.SSM = ssm.NewFromConfig(awsCfg)
	}
	ua := o.userAgent
	if ua == "" {
		ua = v.Get().UserAgent()
	}

	taskCtx, stopTask := context.WithCancel(context.WithoutCancel(ctx))
	defer stopTask()
	task := resource.NewTask(taskCtx, resource.TaskOptions{
		Logger:    L,
		Loaders:   loader.Defaults(lopts),
		UserAgent: ua,
	})
	defer func() { _ = task.Exit() }()

	md, it, err := resource.LoadBytesIter(ctx, task, u)
	if err != nil {
		return err
	}

	body, closeBody, err := openOutput(o.out, stdout)
	if err != nil {
		return err
	}
	digest := sha256.New()
	w := io.MultiWriter(body, digest)
	var n int64
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}
		m, err := w.Write(chunk)
		n += int64(m)
		if err != nil {
			closeBody()
			return xerrors.Wrap(err, "write body")
		}
	}
	if err := closeBody(); err != nil {
		return xerrors.Wrap(err, "close output")
	}
	if err := it.Err(); err != nil {
		return xerrors.Wrapf(err, "load %s", u.Redacted())
	}

	res := Result{
		URL:     u.Redacted(),
		Type:    md.ContentType.String(),
		Charset: md.Charset,
		Status:  md.Status,
		Bytes:   n,
		SHA256:  hex.EncodeToString(digest.Sum(nil)),
	}
	if md.FinalURL != nil {
		res.FinalURL = md.FinalURL.Redacted()
	}
	if !md.Declared.IsZero() {
		res.Declared = md.Declared.String()
	}

	// the report goes to stderr when the body owns stdout
	report := stdout
	if o.out == "-" {
		report = os.Stderr
	}
	return printResult(report, res, o.asJSON)
}

// openOutput returns where the body goes. With no -o the body is counted
// and dropped.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	switch path {
	case "":
		return io.Discard, func() error { return nil }, nil
	case "-":
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, xerrors.Wrap(err, "create output")
	}
	return f, f.Close, nil
}

func printResult(w io.Writer, r Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	_, err := fmt.Fprintf(w, "url:      %s\nfinal:    %s\ntype:     %s\ndeclared: %s\ncharset:  %s\nstatus:   %d\nbytes:    %d\nsha256:   %s\n",
		r.URL, r.FinalURL, r.Type, orDash(r.Declared), orDash(r.Charset), r.Status, r.Bytes, r.SHA256)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
