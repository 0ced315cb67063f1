package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/crypto"
)

// Well-known hardhat development key.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	signer, err := crypto.NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

func signedRequest(t *testing.T, signer *crypto.Signer, body string) *http.Request {
	t.Helper()
	sig, err := signer.SignMessage([]byte(body))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/markets/m1/seed", bytes.NewBufferString(body))
	r.Header.Set(HeaderTraderAddress, signer.Address().Hex())
	r.Header.Set(HeaderTraderSignature, sig)
	return r
}

func TestTraderAuthInjectsRecoveredAddress(t *testing.T) {
	signer := testSigner(t)
	body := `{"amount":"1000000"}`

	var gotAddr common.Address
	var gotBody []byte
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := TraderFrom(r.Context())
		if !ok {
			t.Fatal("trader address missing from context")
		}
		gotAddr = addr
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		gotBody = b
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	TraderAuth()(next).ServeHTTP(rec, signedRequest(t, signer, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if gotAddr != signer.Address() {
		t.Errorf("recovered address = %s, want %s", gotAddr.Hex(), signer.Address().Hex())
	}
	if string(gotBody) != body {
		t.Errorf("handler body = %q, want %q (body must be restored)", gotBody, body)
	}
}

func TestTraderAuthRejects(t *testing.T) {
	signer := testSigner(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})
	mw := TraderAuth()(next)

	t.Run("missing headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString("{}"))
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("address mismatch", func(t *testing.T) {
		r := signedRequest(t, signer, `{"amount":"1"}`)
		r.Header.Set(HeaderTraderAddress, "0x00000000000000000000000000000000000000aa")
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		r := signedRequest(t, signer, `{"amount":"1"}`)
		r.Body = io.NopCloser(bytes.NewBufferString(`{"amount":"999"}`))
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("garbage signature", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString("{}"))
		r.Header.Set(HeaderTraderAddress, signer.Address().Hex())
		r.Header.Set(HeaderTraderSignature, "0xdeadbeef")
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestOperatorAuth(t *testing.T) {
	auth := &crypto.HMACAuth{Key: "op-key", Secret: "op-secret"}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := OperatorAuth(auth)(next)

	t.Run("valid signature", func(t *testing.T) {
		body := `{"question":"Will it rain?"}`
		r := httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewBufferString(body))
		for k, v := range auth.Headers(http.MethodPost, "/api/markets", body) {
			r.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := &crypto.HMACAuth{Key: "op-key", Secret: "wrong"}
		body := `{}`
		r := httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewBufferString(body))
		for k, v := range other.Headers(http.MethodPost, "/api/markets", body) {
			r.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("disabled when unconfigured", func(t *testing.T) {
		open := OperatorAuth(nil)(next)
		r := httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}
