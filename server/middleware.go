package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/glazyr/paygate/gate"
	"github.com/glazyr/paygate/types"
)

// HeaderSession carries the session id when it is not passed as the
// sessionId query parameter.
const HeaderSession = "Mcp-Session-Id"

// HeaderPaymentRequired carries the base64-encoded JSON challenge on every
// 402 response, alongside the same challenge in the body. Clients that
// cannot read 402 bodies still get the full payment instructions.
const HeaderPaymentRequired = "PAYMENT-REQUIRED"

// maxPeekSize bounds how much of the body the middleware reads to discover
// the JSON-RPC method.
const maxPeekSize = 1 << 20

// GateMiddleware runs the access policy before the wrapped handler. Denied
// requests get a 402 with the payment challenge; allowed requests pass
// through untouched.
func (s *Server) GateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" {
			sessionID = r.Header.Get(HeaderSession)
		}
		if sessionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "missing session id",
			})
			return
		}

		method, restored := peekMethod(r)
		r.Body = restored

		decision := s.gate.Decide(r.Context(), &gate.Request{
			SessionID: sessionID,
			Method:    method,
			Header:    r.Header,
		})
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		s.writeChallenge(w, decision)
	})
}

// writeChallenge renders a deny decision as a 402. A rejected payment proof
// and an exhausted quota carry different titles so clients can tell a bad
// transaction from a missing one.
func (s *Server) writeChallenge(w http.ResponseWriter, d types.Decision) {
	title := "Payment Required"
	if d.Rule == "payment" {
		title = "Payment Verification Failed"
	}

	if d.Challenge != nil {
		raw, err := json.Marshal(d.Challenge)
		if err == nil {
			w.Header().Set(HeaderPaymentRequired, base64.StdEncoding.EncodeToString(raw))
		}
	}
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"error":     title,
		"message":   d.Reason,
		"challenge": d.Challenge,
	})
}

// replayBody stitches a peeked prefix back in front of an undrained body.
type replayBody struct {
	io.Reader
	io.Closer
}

// peekMethod reads the JSON-RPC method from the body without consuming it.
// Non-JSON or oversized bodies yield an empty method and pass through; a
// body larger than the peek limit is handed on intact, prefix plus
// remainder, so the upstream sees every byte the client sent.
func peekMethod(r *http.Request) (string, io.ReadCloser) {
	if r.Body == nil {
		return "", http.NoBody
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxPeekSize))
	if err != nil || len(buf) == maxPeekSize {
		// Either the read broke off or more body may remain. The original
		// body stays open and unread past the prefix.
		return "", replayBody{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	}
	_ = r.Body.Close()

	var probe struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(buf, &probe)
	return probe.Method, io.NopCloser(bytes.NewReader(buf))
}

// requestID ensures every request carries an X-Request-ID, generating one
// when the client did not send it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
