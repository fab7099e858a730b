package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	transport "github.com/vyrodovalexey/gqlguard/internal/middleware"
)

// Request is a GraphQL request as sent over HTTP.
type Request struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
	Extensions    json.RawMessage `json:"extensions,omitempty"`
}

// ParseRequest extracts the GraphQL request from r. GET requests carry it
// in the query string. POST requests carry it as a JSON body or, with
// Content-Type application/graphql, as the raw query text. The body is
// restored so r can still be forwarded.
func ParseRequest(r *http.Request) (*Request, error) {
	switch r.Method {
	case http.MethodGet:
		return parseQueryString(r)
	case http.MethodPost:
		body, err := readAndRestoreBody(r)
		if err != nil {
			return nil, err
		}
		return parseBody(r, body)
	default:
		return nil, fmt.Errorf("%w: method %s is not supported", ErrInvalidRequest, r.Method)
	}
}

func parseQueryString(r *http.Request) (*Request, error) {
	q := r.URL.Query()
	req := &Request{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if v := q.Get("variables"); v != "" {
		req.Variables = json.RawMessage(v)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("%w: missing query", ErrInvalidRequest)
	}
	return req, nil
}

func parseBody(r *http.Request, body []byte) (*Request, error) {
	mediaType := transport.ContentTypeJSON
	if ct := r.Header.Get(transport.HeaderContentType); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}

	if mediaType == transport.ContentTypeGraphQL {
		req := &Request{
			Query:         string(body),
			OperationName: r.URL.Query().Get("operationName"),
		}
		if strings.TrimSpace(req.Query) == "" {
			return nil, fmt.Errorf("%w: missing query", ErrInvalidRequest)
		}
		return req, nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, fmt.Errorf("%w: batched requests are not supported", ErrInvalidRequest)
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("%w: missing query", ErrInvalidRequest)
	}
	return &req, nil
}

// readAndRestoreBody reads the whole body and replaces it with a rewindable copy.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	restoreBody(r, body)
	return body, nil
}

func restoreBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}
