package utils

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewAccessToken_RoundTrip(t *testing.T) {
	tok, err := NewAccessToken("secret", 42, "MERCHANT", 5)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	parsed, err := jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) { return []byte("secret"), nil })
	if err != nil || !parsed.Valid {
		t.Fatalf("token did not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "42" || claims["role"] != "MERCHANT" {
		t.Errorf("unexpected claims %v", claims)
	}
}

func TestSignAndVerifyHex(t *testing.T) {
	body := []byte(`{"fields":{"seat":"12A"}}`)
	sig := SignHex("shared", body)

	if !VerifyHex("shared", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifyHex("other", body, sig) {
		t.Error("signature with wrong secret accepted")
	}
	if VerifyHex("shared", append(body, ' '), sig) {
		t.Error("signature over different body accepted")
	}
	if VerifyHex("shared", body, "not-hex") {
		t.Error("malformed signature accepted")
	}
}

func TestHashToken(t *testing.T) {
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashToken("abc"); got != want {
		t.Errorf("HashToken() = %s", got)
	}
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	if err != nil {
		t.Fatalf("RandomHex: %v", err)
	}
	b, err := RandomHex(16)
	if err != nil {
		t.Fatalf("RandomHex: %v", err)
	}
	if len(a) != 32 || len(b) != 32 {
		t.Errorf("lengths = %d, %d; want 32", len(a), len(b))
	}
	if a == b {
		t.Error("two tokens are identical")
	}
}
