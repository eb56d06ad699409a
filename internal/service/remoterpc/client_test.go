package remoterpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDestination struct {
	authCalls  atomic.Int32
	callCalls  atomic.Int32
	expireNext atomic.Bool
	authDelay  time.Duration
	handle     func(p callParams) (any, *rpcError)
}

func (f *fakeDestination) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JSONRPC != "2.0" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case authenticatePath:
		f.authCalls.Add(1)
		if f.authDelay > 0 {
			time.Sleep(f.authDelay)
		}
		var p authParams
		_ = json.Unmarshal(req.Params, &p)
		switch {
		case p.Password == "denied":
			writeJSON(w, map[string]any{"error": map[string]any{
				"code": 200, "message": "Odoo Server Error",
				"data": map[string]any{"name": "odoo.exceptions.AccessDenied", "message": "Access Denied"},
			}})
		case p.Password != "secret" || p.DB != "helpdesk":
			writeJSON(w, map[string]any{"result": map[string]any{"uid": false}})
		default:
			http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "abc", Path: "/"})
			writeJSON(w, map[string]any{"result": map[string]any{"uid": 2, "db": p.DB}})
		}

	case callKWPath:
		f.callCalls.Add(1)
		if c, err := r.Cookie("session_id"); err != nil || c.Value != "abc" {
			writeJSON(w, map[string]any{"error": map[string]any{
				"code": 100, "message": "Odoo Session Expired",
				"data": map[string]any{"name": "odoo.http.SessionExpiredException", "message": "Session expired"},
			}})
			return
		}
		if f.expireNext.CompareAndSwap(true, false) {
			writeJSON(w, map[string]any{"error": map[string]any{
				"code": 100, "message": "Odoo Session Expired",
				"data": map[string]any{"name": "odoo.http.SessionExpiredException", "message": "Session expired"},
			}})
			return
		}
		var p callParams
		_ = json.Unmarshal(req.Params, &p)
		result, rpcErr := f.handle(p)
		if rpcErr != nil {
			writeJSON(w, map[string]any{"error": rpcErr})
			return
		}
		writeJSON(w, map[string]any{"result": result})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeDestination(t *testing.T) (*fakeDestination, Endpoint) {
	t.Helper()
	fake := &fakeDestination{
		handle: func(p callParams) (any, *rpcError) {
			switch p.Method {
			case "search":
				return []int{11}, nil
			case "create":
				return 901, nil
			}
			e := &rpcError{Code: 200}
			e.Data.Message = "method not found"
			return nil, e
		},
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, Endpoint{BaseURL: srv.URL, Database: "helpdesk", Login: "bridge", Secret: "secret"}
}

func TestAuthenticate(t *testing.T) {
	_, ep := newFakeDestination(t)
	c := NewClient()

	t.Run("success", func(t *testing.T) {
		sess, err := c.Authenticate(context.Background(), ep)
		require.NoError(t, err)
		assert.Equal(t, 2, sess.UserID)
	})

	t.Run("wrong credentials", func(t *testing.T) {
		bad := ep
		bad.Secret = "nope"
		_, err := c.Authenticate(context.Background(), bad)

		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Authentication failed", authErr.Message)
	})

	t.Run("rejected with message", func(t *testing.T) {
		bad := ep
		bad.Secret = "denied"
		_, err := c.Authenticate(context.Background(), bad)

		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Access Denied", authErr.Message)
		assert.True(t, IsAuthentication(err))
	})

	t.Run("invalid url", func(t *testing.T) {
		bad := ep
		bad.BaseURL = "ftp://example.com"
		_, err := c.Authenticate(context.Background(), bad)
		assert.True(t, IsAuthentication(err))
	})
}

func TestAuthenticateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient().Authenticate(context.Background(), Endpoint{BaseURL: url, Database: "helpdesk"})

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.NotNil(t, authErr.Err)
}

func TestAuthenticateTimeout(t *testing.T) {
	fake, ep := newFakeDestination(t)
	fake.authDelay = 200 * time.Millisecond

	_, err := NewClient(WithAuthTimeout(20*time.Millisecond)).Authenticate(context.Background(), ep)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCall(t *testing.T) {
	fake, ep := newFakeDestination(t)
	c := NewClient()

	sess, err := c.Authenticate(context.Background(), ep)
	require.NoError(t, err)

	t.Run("result", func(t *testing.T) {
		raw, err := c.Call(context.Background(), sess, "res.partner", "search",
			[]any{[]any{[]any{"email", "=", "ann@example.com"}}}, map[string]any{"limit": 1})
		require.NoError(t, err)

		ids, err := DecodeIDs(raw)
		require.NoError(t, err)
		assert.Equal(t, []int{11}, ids)
	})

	t.Run("error envelope", func(t *testing.T) {
		_, err := c.Call(context.Background(), sess, "helpdesk.ticket", "explode", nil, nil)

		var callErr *RemoteCallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, "method not found", callErr.Message)
		assert.Equal(t, "helpdesk.ticket", callErr.Model)
	})

	t.Run("error without message", func(t *testing.T) {
		fake.handle = func(callParams) (any, *rpcError) { return nil, &rpcError{Code: 1} }
		_, err := c.Call(context.Background(), sess, "helpdesk.ticket", "create", nil, nil)

		var callErr *RemoteCallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, "Unknown error", callErr.Message)
	})
}

func TestConnFreshSessionPerInvoke(t *testing.T) {
	fake, ep := newFakeDestination(t)
	conn := NewClient().Connect(ep, false)

	for i := 0; i < 3; i++ {
		_, err := conn.Invoke(context.Background(), "res.partner", "search", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), fake.authCalls.Load())
	assert.Equal(t, int32(3), fake.callCalls.Load())
}

func TestConnReuseSession(t *testing.T) {
	fake, ep := newFakeDestination(t)
	conn := NewClient().Connect(ep, true)

	for i := 0; i < 3; i++ {
		_, err := conn.Invoke(context.Background(), "res.partner", "search", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fake.authCalls.Load())

	fake.expireNext.Store(true)
	raw, err := conn.Invoke(context.Background(), "helpdesk.ticket", "create", []any{map[string]any{"name": "x"}}, nil)
	require.NoError(t, err)

	id, err := DecodeID(raw)
	require.NoError(t, err)
	assert.Equal(t, 901, id)
	assert.Equal(t, int32(2), fake.authCalls.Load())
}

func TestConnAuthFailureSurfacesPerCall(t *testing.T) {
	fake, ep := newFakeDestination(t)
	ep.Secret = "denied"
	conn := NewClient().Connect(ep, true)

	for i := 0; i < 2; i++ {
		_, err := conn.Invoke(context.Background(), "res.partner", "search", nil, nil)
		assert.True(t, IsAuthentication(err))
	}
	assert.Equal(t, int32(2), fake.authCalls.Load())
	assert.Equal(t, int32(0), fake.callCalls.Load())
}

func TestDecodeID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"42", 42, false},
		{"[7]", 7, false},
		{"[]", 0, true},
		{`"x"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := DecodeID(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeIDs(t *testing.T) {
	ids, err := DecodeIDs(json.RawMessage("false"))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = DecodeIDs(json.RawMessage(" [1, 2] "))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)

	_, err = DecodeIDs(json.RawMessage(`{"a":1}`))
	assert.Error(t, err)
}
