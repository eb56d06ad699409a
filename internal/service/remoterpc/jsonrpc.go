package remoterpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	authenticatePath = "/web/session/authenticate"
	callKWPath       = "/web/dataset/call_kw"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params"`
}

type authParams struct {
	DB       string `json:"db"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

type callParams struct {
	Model  string         `json:"model"`
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// text returns the most specific message available, or fallback.
func (e *rpcError) text(fallback string) string {
	if e.Data.Message != "" {
		return e.Data.Message
	}
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

type authResult struct {
	UID json.RawMessage `json:"uid"`
}

// userID extracts a positive uid; Odoo returns false on bad credentials.
func (r authResult) userID() (int, bool) {
	var uid int
	if err := json.Unmarshal(r.UID, &uid); err != nil || uid <= 0 {
		return 0, false
	}
	return uid, true
}

// DecodeID reads a single record id from a create result, which is either a
// bare integer or a one-element list.
func DecodeID(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	var id int
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	ids, err := DecodeIDs(raw)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("empty id result")
	}
	return ids[0], nil
}

// DecodeIDs reads a list of record ids from a search result. false and null
// decode to an empty list.
func DecodeIDs(raw json.RawMessage) ([]int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return nil, nil
	}
	var ids []int
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("unexpected id list %s: %w", truncate(raw, 64), err)
	}
	return ids, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..." + strconv.Itoa(len(b)-n) + " more bytes"
}
