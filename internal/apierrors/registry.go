package apierrors

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// ErrorCode is a namespaced code ("transfer:auth_failed") with its default
// message and HTTP status.
type ErrorCode struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
}

// Namespace returns the part of the code before the colon, "core" when
// there is none.
func (e ErrorCode) Namespace() string {
	if ns, _, ok := strings.Cut(e.Code, ":"); ok && ns != "" {
		return ns
	}
	return "core"
}

type registry struct {
	mu    sync.RWMutex
	codes map[string]ErrorCode
	byNS  map[string][]string
}

// Registry holds every code the API can answer with.
var Registry = &registry{
	codes: make(map[string]ErrorCode),
	byNS:  make(map[string][]string),
}

// Register adds or replaces a code.
func (r *registry) Register(e ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replacing := r.codes[e.Code]
	r.codes[e.Code] = e
	if !replacing {
		ns := e.Namespace()
		r.byNS[ns] = append(r.byNS[ns], e.Code)
	}
}

// RegisterNamespace registers codes under ns, prefixing those that carry
// no namespace yet.
func (r *registry) RegisterNamespace(ns string, codes []ErrorCode) {
	for _, e := range codes {
		if !strings.Contains(e.Code, ":") {
			e.Code = ns + ":" + e.Code
		}
		r.Register(e)
	}
}

func (r *registry) Get(code string) (ErrorCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.codes[code]
	return e, ok
}

// All returns every code sorted by name.
func (r *registry) All() []ErrorCode {
	r.mu.RLock()
	out := make([]ErrorCode, 0, len(r.codes))
	for _, e := range r.codes {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ByNamespace returns the codes of ns in registration order.
func (r *registry) ByNamespace(ns string) []ErrorCode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ErrorCode, 0, len(r.byNS[ns]))
	for _, code := range r.byNS[ns] {
		out = append(out, r.codes[code])
	}
	return out
}

// HTTPStatus is 500 for unknown codes.
func (r *registry) HTTPStatus(code string) int {
	if e, ok := r.Get(code); ok {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Message falls back to the code itself.
func (r *registry) Message(code string) string {
	if e, ok := r.Get(code); ok {
		return e.Message
	}
	return code
}
