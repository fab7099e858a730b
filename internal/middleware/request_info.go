package middleware

import (
	"context"
	"sync"
)

type requestInfoKey struct{}

// RequestInfo carries admission results from inner handlers back out to the
// access log. Inner handlers fill it through Set; it is safe for concurrent
// use.
type RequestInfo struct {
	mu            sync.Mutex
	route         string
	upstream      string
	operationType string
	operationName string
	depth         int
	cost          uint64
	rejected      string
}

// AdmissionFields is a snapshot of RequestInfo.
type AdmissionFields struct {
	Route         string
	Upstream      string
	OperationType string
	OperationName string
	Depth         int
	Cost          uint64
	Rejected      string
}

// Set replaces the recorded admission result.
func (ri *RequestInfo) Set(f AdmissionFields) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.route = f.Route
	ri.upstream = f.Upstream
	ri.operationType = f.OperationType
	ri.operationName = f.OperationName
	ri.depth = f.Depth
	ri.cost = f.Cost
	ri.rejected = f.Rejected
}

// Snapshot returns the recorded admission result.
func (ri *RequestInfo) Snapshot() AdmissionFields {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return AdmissionFields{
		Route:         ri.route,
		Upstream:      ri.upstream,
		OperationType: ri.operationType,
		OperationName: ri.operationName,
		Depth:         ri.depth,
		Cost:          ri.cost,
		Rejected:      ri.rejected,
	}
}

// ContextWithRequestInfo attaches a fresh RequestInfo to ctx.
func ContextWithRequestInfo(ctx context.Context) (context.Context, *RequestInfo) {
	ri := &RequestInfo{}
	return context.WithValue(ctx, requestInfoKey{}, ri), ri
}

// RequestInfoFromContext returns the RequestInfo of ctx, or nil.
func RequestInfoFromContext(ctx context.Context) *RequestInfo {
	ri, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return ri
}
