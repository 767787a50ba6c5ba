package demo

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nimburion/rpcserver/pkg/middleware/requestid"
	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol"
	"github.com/nimburion/rpcserver/pkg/protocol/awsjson"
	"github.com/nimburion/rpcserver/pkg/protocol/rest"
	"github.com/nimburion/rpcserver/pkg/routing"
)

// ServiceName is the awsJson service prefix of every operation.
const ServiceName = "ObjectStore"

// MaxObjectSize bounds the body accepted by PutObject.
const MaxObjectSize = 5 << 20

// RequestIDHeader echoes the server request ID on operation responses.
const RequestIDHeader = "X-Amz-Request-Id"

// REST route templates.
const (
	ListObjectsTemplate = "/{Bucket}?list-type=2"
	ObjectTemplate      = "/{Bucket}/{Key+}"
)

// Service exposes a Store as GetObject, PutObject and ListObjects.
type Service struct {
	store  *Store
	log    logger.Logger
	policy sensitive.Policy
}

// NewService creates a Service. Object keys are logged according to policy.
func NewService(store *Store, log logger.Logger, policy sensitive.Policy) *Service {
	return &Service{store: store, log: log, policy: policy}
}

type contentTyper interface {
	ContentType() string
}

// Register adds the operations to b using the routing style of p.
func (s *Service) Register(b *routing.Builder, p routing.Protocol) error {
	contentType := "application/json"
	if ct, ok := p.(contentTyper); ok {
		contentType = ct.ContentType()
	}

	switch p.Name() {
	case awsjson.NameV10, awsjson.NameV11:
		h := &jsonHandlers{svc: s, contentType: contentType}
		b.RouteFunc(http.MethodPost, awsjson.Target(ServiceName, "GetObject"), h.getObject)
		b.RouteFunc(http.MethodPost, awsjson.Target(ServiceName, "PutObject"), h.putObject)
		b.RouteFunc(http.MethodPost, awsjson.Target(ServiceName, "ListObjects"), h.listObjects)
	case rest.NameJSON, rest.NameXML:
		h := &restHandlers{svc: s, xml: p.Name() == rest.NameXML, contentType: contentType}
		b.RouteFunc(http.MethodGet, ListObjectsTemplate, h.listObjects)
		b.RouteFunc(http.MethodGet, ObjectTemplate, h.getObject)
		b.RouteFunc(http.MethodPut, ObjectTemplate, h.putObject)
	default:
		return fmt.Errorf("demo: protocol %q is not supported", p.Name())
	}
	return nil
}

func (s *Service) get(req *http.Request, bucket, key string) (Object, error) {
	if err := validateLocation(bucket, key, true); err != nil {
		return Object{}, err
	}
	obj, err := s.store.Get(req.Context(), bucket, key)
	if err != nil {
		return Object{}, storeError(err)
	}
	s.log.Debug("object read", "bucket", bucket, "key", s.policy.Value(key), "size", len(obj.Body))
	return obj, nil
}

func (s *Service) put(req *http.Request, bucket, key string, body []byte, contentType string) (Object, error) {
	if err := validateLocation(bucket, key, true); err != nil {
		return Object{}, err
	}
	if len(body) > MaxObjectSize {
		return Object{}, entityTooLarge()
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	obj, err := s.store.Put(req.Context(), bucket, key, body, contentType)
	if err != nil {
		return Object{}, storeError(err)
	}
	s.log.Info("object stored", "bucket", bucket, "key", s.policy.Value(key), "size", len(body))
	return obj, nil
}

func (s *Service) list(req *http.Request, bucket, prefix string, limit int) ([]Object, bool, error) {
	if err := validateLocation(bucket, "", false); err != nil {
		return nil, false, err
	}
	objects, truncated, err := s.store.List(req.Context(), bucket, prefix, limit)
	if err != nil {
		return nil, false, storeError(err)
	}
	return objects, truncated, nil
}

func validateLocation(bucket, key string, needKey bool) error {
	if bucket == "" {
		return protocol.NewClientError("ValidationException", "Bucket is required")
	}
	if needKey && key == "" {
		return protocol.NewClientError("ValidationException", "Key is required")
	}
	return nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrNoSuchBucket):
		return protocol.NewNotFoundError("NoSuchBucket", "The specified bucket does not exist").WithCause(err)
	case errors.Is(err, ErrNoSuchKey):
		return protocol.NewNotFoundError("NoSuchKey", "The specified key does not exist").WithCause(err)
	default:
		return err
	}
}

func entityTooLarge() error {
	return protocol.NewError("EntityTooLarge", "Object exceeds the maximum allowed size").
		WithHTTPStatus(http.StatusRequestEntityTooLarge)
}

// readBody reads at most limit bytes. Longer bodies are rejected.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, protocol.NewClientError("SerializationException", "Failed to read request body").WithCause(err)
	}
	if int64(len(body)) > limit {
		return nil, entityTooLarge()
	}
	return body, nil
}

// respond takes the server request ID and stamps it on resp.
func respond(req *http.Request, resp *pipeline.Response) (*pipeline.Response, error) {
	id, err := requestid.Extract(req)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(RequestIDHeader, id.String())
	return resp, nil
}

type jsonHandlers struct {
	svc         *Service
	contentType string
}

type getObjectInput struct {
	Bucket string
	Key    string
}

type getObjectOutput struct {
	Body          []byte
	ContentType   string
	ContentLength int
	ETag          string
	LastModified  int64
}

type putObjectInput struct {
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
}

type putObjectOutput struct {
	ETag string
}

type listObjectsInput struct {
	Bucket  string
	Prefix  string
	MaxKeys int
}

type objectSummary struct {
	Key          string
	ETag         string
	Size         int
	LastModified int64
}

type listObjectsOutput struct {
	Contents    []objectSummary
	IsTruncated bool
}

func (h *jsonHandlers) decode(req *http.Request, v any) error {
	body, err := readBody(req.Body, MaxObjectSize*2)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return protocol.NewClientError("SerializationException", "Request body is not valid JSON").WithCause(err)
	}
	return nil
}

func (h *jsonHandlers) encode(req *http.Request, v any) (*pipeline.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return respond(req, pipeline.NewResponse(http.StatusOK).WithBody(h.contentType, body))
}

func (h *jsonHandlers) getObject(req *http.Request) (*pipeline.Response, error) {
	var in getObjectInput
	if err := h.decode(req, &in); err != nil {
		return nil, err
	}
	obj, err := h.svc.get(req, in.Bucket, in.Key)
	if err != nil {
		return nil, err
	}
	return h.encode(req, getObjectOutput{
		Body:          obj.Body,
		ContentType:   obj.ContentType,
		ContentLength: len(obj.Body),
		ETag:          obj.ETag,
		LastModified:  obj.LastModified.Unix(),
	})
}

func (h *jsonHandlers) putObject(req *http.Request) (*pipeline.Response, error) {
	var in putObjectInput
	if err := h.decode(req, &in); err != nil {
		return nil, err
	}
	obj, err := h.svc.put(req, in.Bucket, in.Key, in.Body, in.ContentType)
	if err != nil {
		return nil, err
	}
	return h.encode(req, putObjectOutput{ETag: obj.ETag})
}

func (h *jsonHandlers) listObjects(req *http.Request) (*pipeline.Response, error) {
	var in listObjectsInput
	if err := h.decode(req, &in); err != nil {
		return nil, err
	}
	objects, truncated, err := h.svc.list(req, in.Bucket, in.Prefix, in.MaxKeys)
	if err != nil {
		return nil, err
	}
	out := listObjectsOutput{Contents: make([]objectSummary, 0, len(objects)), IsTruncated: truncated}
	for _, obj := range objects {
		out.Contents = append(out.Contents, objectSummary{
			Key:          obj.Key,
			ETag:         obj.ETag,
			Size:         len(obj.Body),
			LastModified: obj.LastModified.Unix(),
		})
	}
	return h.encode(req, out)
}

type restHandlers struct {
	svc         *Service
	xml         bool
	contentType string
}

type listBucketResult struct {
	XMLName     xml.Name          `xml:"ListBucketResult" json:"-"`
	Name        string            `xml:"Name" json:"name"`
	Prefix      string            `xml:"Prefix" json:"prefix"`
	KeyCount    int               `xml:"KeyCount" json:"keyCount"`
	MaxKeys     int               `xml:"MaxKeys" json:"maxKeys"`
	IsTruncated bool              `xml:"IsTruncated" json:"isTruncated"`
	Contents    []restObjectEntry `xml:"Contents" json:"contents"`
}

type restObjectEntry struct {
	Key          string `xml:"Key" json:"key"`
	ETag         string `xml:"ETag" json:"etag"`
	Size         int    `xml:"Size" json:"size"`
	LastModified string `xml:"LastModified" json:"lastModified"`
}

func (h *restHandlers) getObject(req *http.Request) (*pipeline.Response, error) {
	params := routing.ParamsFrom(req)
	obj, err := h.svc.get(req, params.Get("Bucket"), params.Get("Key"))
	if err != nil {
		return nil, err
	}
	resp := pipeline.NewResponse(http.StatusOK).WithBody(obj.ContentType, obj.Body)
	resp.Header.Set("ETag", obj.ETag)
	resp.Header.Set("Last-Modified", obj.LastModified.Format(http.TimeFormat))
	return respond(req, resp)
}

func (h *restHandlers) putObject(req *http.Request) (*pipeline.Response, error) {
	params := routing.ParamsFrom(req)
	if req.ContentLength > MaxObjectSize {
		return nil, entityTooLarge()
	}
	body, err := readBody(req.Body, MaxObjectSize)
	if err != nil {
		return nil, err
	}
	obj, err := h.svc.put(req, params.Get("Bucket"), params.Get("Key"), body, req.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	resp := pipeline.NewResponse(http.StatusOK)
	resp.Header.Set("ETag", obj.ETag)
	return respond(req, resp)
}

func (h *restHandlers) listObjects(req *http.Request) (*pipeline.Response, error) {
	bucket := routing.ParamsFrom(req).Get("Bucket")
	query := req.URL.Query()
	limit := 1000
	if raw := query.Get("max-keys"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, protocol.NewClientError("ValidationException", "max-keys must be a non-negative integer")
		}
		limit = n
	}
	prefix := query.Get("prefix")

	objects, truncated, err := h.svc.list(req, bucket, prefix, limit)
	if err != nil {
		return nil, err
	}
	result := listBucketResult{
		Name:        bucket,
		Prefix:      prefix,
		KeyCount:    len(objects),
		MaxKeys:     limit,
		IsTruncated: truncated,
		Contents:    make([]restObjectEntry, 0, len(objects)),
	}
	for _, obj := range objects {
		result.Contents = append(result.Contents, restObjectEntry{
			Key:          obj.Key,
			ETag:         obj.ETag,
			Size:         len(obj.Body),
			LastModified: obj.LastModified.Format(time.RFC3339),
		})
	}

	var body []byte
	if h.xml {
		body, err = xml.Marshal(result)
		if err == nil {
			body = append([]byte(xml.Header), body...)
		}
	} else {
		body, err = json.Marshal(result)
	}
	if err != nil {
		return nil, err
	}
	return respond(req, pipeline.NewResponse(http.StatusOK).WithBody(h.contentType, body))
}
