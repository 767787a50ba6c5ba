package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/rpcserver/pkg/config"
	"github.com/nimburion/rpcserver/pkg/presign"
)

func presignConfig(cfg *config.Config) presign.Config {
	return presign.Config{
		Region:          cfg.Presign.Region,
		Service:         cfg.Presign.Service,
		AccessKeyID:     cfg.Presign.AccessKeyID,
		SecretAccessKey: cfg.Presign.SecretAccessKey,
		SessionToken:    cfg.Presign.SessionToken,
		Expiry:          cfg.Presign.Expiry,
		Endpoint:        cfg.Presign.Endpoint,
		UsePathStyle:    cfg.Presign.UsePathStyle,
	}
}

func newPresignCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	presignCmd := &cobra.Command{
		Use:   "presign",
		Short: "Create presigned URLs",
	}

	var (
		bucket        string
		key           string
		contentType   string
		contentLength int64
	)
	objectCmd := func(use, short string, put bool) *cobra.Command {
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				p, err := presign.NewObjectPresigner(cmd.Context(), presignConfig(cfg))
				if err != nil {
					return err
				}
				var out presign.Presigned
				if put {
					out, err = p.PutObject(cmd.Context(), bucket, key, contentType, contentLength)
				} else {
					out, err = p.GetObject(cmd.Context(), bucket, key)
				}
				if err != nil {
					return err
				}
				return writePresigned(cmd.OutOrStdout(), out)
			},
		}
		cmd.Flags().StringVar(&bucket, "bucket", "", "bucket name")
		cmd.Flags().StringVar(&key, "key", "", "object key")
		_ = cmd.MarkFlagRequired("bucket")
		_ = cmd.MarkFlagRequired("key")
		if put {
			cmd.Flags().StringVar(&contentType, "content-type", "", "content type the upload must carry")
			cmd.Flags().Int64Var(&contentLength, "content-length", 0, "exact upload size in bytes")
		}
		return cmd
	}
	presignCmd.AddCommand(objectCmd("get", "Presign an object download", false))
	presignCmd.AddCommand(objectCmd("put", "Presign an object upload", true))

	var (
		method  string
		rawURL  string
		headers []string
		expires time.Duration
	)
	requestCmd := &cobra.Command{
		Use:   "request",
		Short: "Presign an arbitrary request for the configured service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			canonical, err := canonicalRequest(method, rawURL, headers, expires, time.Now())
			if err != nil {
				return err
			}
			if canonical.Expires == 0 {
				canonical.Expires = cfg.Presign.Expiry
			}
			signer, err := presign.NewSignerFromConfig(cmd.Context(), presignConfig(cfg))
			if err != nil {
				return err
			}
			out, err := signer.Presign(cmd.Context(), canonical)
			if err != nil {
				return err
			}
			return writePresigned(cmd.OutOrStdout(), out)
		},
	}
	requestCmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	requestCmd.Flags().StringVar(&rawURL, "url", "", "absolute URL to sign")
	requestCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "signed header as Name: value (repeatable)")
	requestCmd.Flags().DurationVar(&expires, "expires", 0, "validity (defaults to presign.expiry)")
	_ = requestCmd.MarkFlagRequired("url")
	presignCmd.AddCommand(requestCmd)

	return presignCmd
}

func canonicalRequest(method, rawURL string, headers []string, expires time.Duration, now time.Time) (presign.CanonicalRequest, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return presign.CanonicalRequest{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return presign.CanonicalRequest{}, fmt.Errorf("url %q must be absolute", rawURL)
	}

	header := make(http.Header)
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return presign.CanonicalRequest{}, fmt.Errorf("header %q must be Name: value", h)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	return presign.CanonicalRequest{
		Method:  strings.ToUpper(method),
		Host:    u.Host,
		Path:    path,
		Query:   u.Query(),
		Header:  header,
		Start:   now,
		Expires: expires,
	}, nil
}

func writePresigned(out io.Writer, p presign.Presigned) error {
	if _, err := fmt.Fprintf(out, "%s %s\n", p.Method, p.URL); err != nil {
		return err
	}
	names := make([]string, 0, len(p.Header))
	for name := range p.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range p.Header[name] {
			if _, err := fmt.Fprintf(out, "%s: %s\n", name, v); err != nil {
				return err
			}
		}
	}
	return nil
}
