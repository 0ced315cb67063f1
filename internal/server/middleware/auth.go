package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/crypto"
)

const (
	// HeaderTraderAddress carries the caller's claimed account address.
	HeaderTraderAddress = "X-Trader-Address"

	// HeaderTraderSignature carries an EIP-191 personal-sign signature over
	// the raw request body, proving control of the claimed address.
	HeaderTraderSignature = "X-Trader-Signature"

	// maxBodySize bounds how much of a request body auth middleware will
	// buffer for signature verification.
	maxBodySize = 1 << 20
)

// traderKey is the context key under which the authenticated trader address
// is stored.
type traderKey struct{}

// TraderFrom returns the authenticated trader address injected by TraderAuth.
func TraderFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(traderKey{}).(common.Address)
	return addr, ok
}

// TraderAuth returns middleware that authenticates callers by an EIP-191
// personal-sign signature over the request body. The recovered address must
// match the X-Trader-Address header; on success it is placed in the request
// context for handlers to read via TraderFrom.
func TraderAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed := strings.TrimSpace(r.Header.Get(HeaderTraderAddress))
			sig := strings.TrimSpace(r.Header.Get(HeaderTraderSignature))
			if claimed == "" || sig == "" {
				writeUnauthorized(w, "missing trader signature headers")
				return
			}
			if !common.IsHexAddress(claimed) {
				writeUnauthorized(w, "invalid trader address")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			recovered, err := crypto.RecoverAddress(body, sig)
			if err != nil {
				writeUnauthorized(w, "invalid trader signature")
				return
			}
			if recovered != common.HexToAddress(claimed) {
				writeUnauthorized(w, "signature does not match address")
				return
			}

			ctx := context.WithValue(r.Context(), traderKey{}, recovered)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorAuth returns middleware that validates operator requests using the
// HMAC scheme in the crypto package. If auth is nil or has no key configured,
// the middleware passes all requests through (disabled).
func OperatorAuth(auth *crypto.HMACAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil || auth.Key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := r.Header.Get(crypto.HeaderAPIKey)
			ts := r.Header.Get(crypto.HeaderTimestamp)
			sig := r.Header.Get(crypto.HeaderSignature)
			if err := auth.VerifyRequest(key, ts, sig, r.Method, r.URL.Path, string(body), time.Now()); err != nil {
				writeUnauthorized(w, "invalid operator credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
