// Package presign turns a canonical request description into a presigned
// SigV4 URL. The signature itself is computed by aws-sdk-go-v2.
package presign

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Query parameters carried by every presigned URL.
const (
	QueryAlgorithm     = "X-Amz-Algorithm"
	QueryCredential    = "X-Amz-Credential"
	QueryDate          = "X-Amz-Date"
	QueryExpires       = "X-Amz-Expires"
	QuerySignedHeaders = "X-Amz-SignedHeaders"
	QuerySignature     = "X-Amz-Signature"
	QuerySecurityToken = "X-Amz-Security-Token"
)

// UnsignedPayload is the payload hash used when the body is not part of the signature.
const UnsignedPayload = "UNSIGNED-PAYLOAD"

// MaxExpiry is the longest validity SigV4 accepts for a presigned URL.
const MaxExpiry = 7 * 24 * time.Hour

// CanonicalRequest describes the operation a presigned URL authorizes.
type CanonicalRequest struct {
	Method string
	Host   string
	Path   string
	// Query holds operation parameters such as x-id. They are signed.
	Query url.Values
	// Header holds headers the caller must send verbatim, e.g. Content-Type.
	Header http.Header
	// ContentLength is signed when positive.
	ContentLength int64
	Start         time.Time
	Expires       time.Duration
}

// Validate reports every problem with the description.
func (c CanonicalRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Method) == "" {
		errs = append(errs, errors.New("method is required"))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", c.Path))
	}
	if c.Start.IsZero() {
		errs = append(errs, errors.New("start time is required"))
	}
	if c.Expires < time.Second || c.Expires > MaxExpiry {
		errs = append(errs, fmt.Errorf("expiry %s must be between 1s and %s", c.Expires, MaxExpiry))
	}
	if c.ContentLength < 0 {
		errs = append(errs, errors.New("content length must not be negative"))
	}
	return errors.Join(errs...)
}

// SignedHeaderNames returns the lowercase, sorted header names the signature
// covers, host included.
func (c CanonicalRequest) SignedHeaderNames() []string {
	names := []string{"host"}
	if c.ContentLength > 0 {
		names = append(names, "content-length")
	}
	for name := range c.Header {
		lower := strings.ToLower(name)
		if lower == "host" || lower == "content-length" {
			continue
		}
		names = append(names, lower)
	}
	sort.Strings(names)
	return names
}

// HTTPRequest builds the unsigned request, with the expiry already in the query.
func (c CanonicalRequest) HTTPRequest(ctx context.Context) (*http.Request, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	query := url.Values{}
	for key, values := range c.Query {
		query[key] = append([]string(nil), values...)
	}
	query.Set(QueryExpires, strconv.FormatInt(int64(c.Expires/time.Second), 10))

	u := &url.URL{Scheme: "https", Host: c.Host, Path: c.Path, RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(c.Method), u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, values := range c.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.ContentLength = c.ContentLength
	return req, nil
}

// Presigned is a presigned URL plus the headers the caller must send with it.
type Presigned struct {
	Method string
	URL    string
	Header http.Header
}

// Signer presigns canonical requests for one region and service.
type Signer struct {
	signer      *v4.Signer
	credentials aws.CredentialsProvider
	region      string
	service     string
}

// NewSigner creates a Signer. S3 keys are signed without double path escaping.
func NewSigner(provider aws.CredentialsProvider, region, service string) *Signer {
	return &Signer{
		signer: v4.NewSigner(func(o *v4.SignerOptions) {
			o.DisableURIPathEscaping = service == "s3"
		}),
		credentials: provider,
		region:      region,
		service:     service,
	}
}

// Config configures a Signer.
type Config struct {
	Region          string
	Service         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Duration
	Endpoint        string
	UsePathStyle    bool
}

// NewSignerFromConfig uses static credentials when they are set and the
// default AWS credential chain otherwise.
func NewSignerFromConfig(ctx context.Context, cfg Config) (*Signer, error) {
	provider, err := credentialsFor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	service := cfg.Service
	if strings.TrimSpace(service) == "" {
		service = "s3"
	}
	return NewSigner(provider, cfg.Region, service), nil
}

func credentialsFor(ctx context.Context, cfg Config) (aws.CredentialsProvider, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, errors.New("aws region is required")
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, errors.New("both access key id and secret access key are required for static credentials")
		}
		return credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	if awsCfg.Credentials == nil {
		return nil, errors.New("failed to resolve aws credentials provider")
	}
	return awsCfg.Credentials, nil
}

// Presign signs the description at its start time.
func (s *Signer) Presign(ctx context.Context, c CanonicalRequest) (Presigned, error) {
	req, err := c.HTTPRequest(ctx)
	if err != nil {
		return Presigned{}, err
	}
	creds, err := s.credentials.Retrieve(ctx)
	if err != nil {
		return Presigned{}, fmt.Errorf("retrieve credentials: %w", err)
	}
	signed, header, err := s.signer.PresignHTTP(ctx, creds, req, UnsignedPayload, s.service, s.region, c.Start.UTC())
	if err != nil {
		return Presigned{}, fmt.Errorf("presign %s %s: %w", req.Method, c.Path, err)
	}
	return Presigned{Method: req.Method, URL: signed, Header: headersToSend(header)}, nil
}

// headersToSend canonicalizes the signer's lowercase header map and drops
// host, which the URL already carries.
func headersToSend(signed http.Header) http.Header {
	out := make(http.Header, len(signed))
	for name, values := range signed {
		if strings.EqualFold(name, "host") {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}
