package graph

import (
	"context"
	"sync"
)

// ExecutedQuery captures a cypher statement and parameters executed against the graph.
type ExecutedQuery struct {
	Query  string
	Params map[string]any
	Write  bool
}

// Responder produces the result of one query.
type Responder func(q ExecutedQuery) (Result, error)

// MemoryClient is a recording Client used to unit test repositories without a
// running graph database. Queued results are served first; otherwise the
// responder (if any) answers.
type MemoryClient struct {
	mu           sync.Mutex
	calls        []ExecutedQuery
	queued       []queuedResult
	responder    Responder
	err          error
	connectivity error
}

type queuedResult struct {
	res Result
	err error
}

// NewMemoryClient instantiates an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

// WithError configures the client to return the provided error for subsequent calls.
func (m *MemoryClient) WithError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithConnectivityError forces VerifyConnectivity to return the supplied error.
func (m *MemoryClient) WithConnectivityError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectivity = err
	return m
}

// WithResponder answers queries that have no queued result.
func (m *MemoryClient) WithResponder(fn Responder) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
	return m
}

// Push queues a result for the next query, read or write.
func (m *MemoryClient) Push(records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, queuedResult{res: Result{Records: records}})
}

// PushError queues an error for the next query.
func (m *MemoryClient) PushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, queuedResult{err: err})
}

func (m *MemoryClient) ExecuteWrite(_ context.Context, cypher string, params map[string]any) (Result, error) {
	return m.execute(ExecutedQuery{Query: cypher, Params: cloneMap(params), Write: true})
}

func (m *MemoryClient) ExecuteRead(_ context.Context, cypher string, params map[string]any) (Result, error) {
	return m.execute(ExecutedQuery{Query: cypher, Params: cloneMap(params)})
}

func (m *MemoryClient) execute(q ExecutedQuery) (Result, error) {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return Result{}, err
	}
	m.calls = append(m.calls, q)
	if len(m.queued) > 0 {
		next := m.queued[0]
		m.queued = m.queued[1:]
		m.mu.Unlock()
		return next.res, next.err
	}
	responder := m.responder
	m.mu.Unlock()

	if responder == nil {
		return Result{}, nil
	}
	return responder(q)
}

func (m *MemoryClient) VerifyConnectivity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivity
}

func (m *MemoryClient) Close(context.Context) error {
	return nil
}

// Calls returns a snapshot of executed queries in order.
func (m *MemoryClient) Calls() []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedQuery(nil), m.calls...)
}

// WriteCalls returns a snapshot of executed write queries.
func (m *MemoryClient) WriteCalls() []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExecutedQuery
	for _, c := range m.calls {
		if c.Write {
			out = append(out, c)
		}
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
