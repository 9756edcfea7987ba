package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JWTVerifier checks HS256 compact tokens. Only the claims the server
// acts on are decoded.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

type Claims struct {
	Subject string `json:"sub"`
	Project string `json:"project"`
	Expires int64  `json:"exp,omitempty"`
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret, now: time.Now}
}

func (v *JWTVerifier) Verify(token string) (Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return Claims{}, fmt.Errorf("jwt verifier not configured")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("malformed token")
	}

	var header struct {
		Alg string `json:"alg"`
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, fmt.Errorf("decode header: %w", err)
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Claims{}, fmt.Errorf("parse header: %w", err)
	}
	if header.Alg != "HS256" {
		return Claims{}, fmt.Errorf("unsupported algorithm %q", header.Alg)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, fmt.Errorf("decode signature: %w", err)
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Claims{}, fmt.Errorf("signature mismatch")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("decode claims: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("parse claims: %w", err)
	}
	if claims.Expires > 0 && v.now().Unix() >= claims.Expires {
		return Claims{}, fmt.Errorf("token expired")
	}
	return claims, nil
}

// Sign mints a compact HS256 token. Tests and the CLI use it; the server
// only verifies.
func (v *JWTVerifier) Sign(claims Claims) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", fmt.Errorf("jwt verifier not configured")
	}
	headerB64 := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(headerB64 + "." + payloadB64))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return headerB64 + "." + payloadB64 + "." + sig, nil
}
