package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyringLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	content := `default_policy:
  allow_localhost_without_auth: false
projects:
  p1:
    tokens:
      - token: tok-alpha
        agent: alpha
      - token: tok-any
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	ring, err := LoadKeyring(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ring.AllowLocalhostWithoutAuth {
		t.Error("policy flag not honored")
	}

	binding, ok := ring.Lookup("tok-alpha")
	if !ok || binding.Project != "p1" || binding.Agent != "alpha" {
		t.Errorf("binding = %+v %v", binding, ok)
	}
	binding, ok = ring.Lookup("tok-any")
	if !ok || binding.Agent != "" {
		t.Errorf("unbound token = %+v %v", binding, ok)
	}
	if _, ok := ring.Lookup("nope"); ok {
		t.Error("unknown token resolved")
	}
}

func TestKeyringRejectsReusedToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	content := `projects:
  p1:
    tokens:
      - token: shared
  p2:
    tokens:
      - token: shared
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKeyring(path); err == nil {
		t.Fatal("expected error for token reused across projects")
	}
}

func TestInitKeysFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	token, err := InitKeysFile(path, "p1", "alpha")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ring, err := LoadKeyring(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	binding, ok := ring.Lookup(token)
	if !ok || binding.Project != "p1" || binding.Agent != "alpha" {
		t.Errorf("binding = %+v %v", binding, ok)
	}
}

func echoInfo(t *testing.T) (http.Handler, *Info) {
	t.Helper()
	var captured Info
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &captured
}

func TestMiddlewareBearer(t *testing.T) {
	ring := NewKeyring(false, map[string]Binding{
		"tok": {Project: "p1", Agent: "alpha"},
	})
	inner, captured := echoInfo(t)
	handler := Middleware(ModeBearer, ring, nil)(inner)

	// missing credentials
	req := httptest.NewRequest(http.MethodPost, "/api/send_message", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no auth status = %d", rec.Code)
	}

	// valid token
	req = httptest.NewRequest(http.MethodPost, "/api/send_message", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d", rec.Code)
	}
	if captured.Project != "p1" || captured.Agent != "alpha" || captured.Mode != ModeBearer {
		t.Errorf("info = %+v", captured)
	}
}

func TestMiddlewareLocalhostBypass(t *testing.T) {
	ring := NewKeyring(true, nil)
	inner, captured := echoInfo(t)
	handler := Middleware(ModeBearer, ring, nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("localhost status = %d", rec.Code)
	}
	if !captured.Localhost {
		t.Errorf("info = %+v", captured)
	}
}

func TestJWTSignVerify(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	token, err := v.Sign(Claims{Subject: "alpha", Project: "p1", Expires: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "alpha" || claims.Project != "p1" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := NewJWTVerifier([]byte("wrong")).Verify(token); err == nil {
		t.Error("wrong secret must fail")
	}

	expired, _ := v.Sign(Claims{Subject: "alpha", Expires: time.Now().Add(-time.Hour).Unix()})
	if _, err := v.Verify(expired); err == nil {
		t.Error("expired token must fail")
	}

	if _, err := v.Verify("not.a.jwt"); err == nil {
		t.Error("malformed token must fail")
	}
}

func TestMiddlewareJWT(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	token, err := v.Sign(Claims{Subject: "alpha", Project: "p1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	inner, captured := echoInfo(t)
	handler := Middleware(ModeJWT, NewKeyring(false, nil), v)(inner)

	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("jwt status = %d", rec.Code)
	}
	if captured.Agent != "alpha" || captured.Project != "p1" || captured.Mode != ModeJWT {
		t.Errorf("info = %+v", captured)
	}
}
