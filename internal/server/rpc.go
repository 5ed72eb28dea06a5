package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	OptimizationID string `json:"optimization_id"`
}

// invalidParams marks errors answered with rpcInvalidParams.
type invalidParams struct{ msg string }

func (e invalidParams) Error() string { return e.msg }

// decodeParams accepts either a params object or a one element array
// holding it.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return invalidParams{"invalid parameter format: " + err.Error()}
		}
		if len(list) == 0 {
			return nil
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams{"invalid parameter format, expected object: " + err.Error()}
	}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	var p idParams
	if err := decodeParams(raw, &p); err != nil {
		return "", err
	}
	if p.OptimizationID == "" {
		return "", invalidParams{"optimization_id is required"}
	}
	return p.OptimizationID, nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		var sr StartRequest
		if err = decodeParams(request.Params, &sr); err == nil {
			var job *Job
			if job, err = s.Start(sr); err == nil {
				result = s.view(job)
			}
		}
	case "optimization.status":
		var id string
		if id, err = decodeID(request.Params); err == nil {
			job, ok := s.job(id)
			if !ok {
				err = errJobNotFound
			} else {
				result = s.view(job)
			}
		}
	case "optimization.cancel":
		var id string
		if id, err = decodeID(request.Params); err == nil {
			if err = s.Cancel(id); err == nil {
				result = map[string]string{"status": "cancellation requested"}
			}
		}
	case "optimization.algorithms":
		result = algorithmNames()
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		code := rpcServerError
		var ip invalidParams
		if errors.As(err, &ip) {
			code = rpcInvalidParams
		}
		s.respondWithError(w, code, err.Error(), request.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}
