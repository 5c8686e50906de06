package crypto

import "testing"

func TestHashAndVerifyToken(t *testing.T) {
	hash, err := HashToken("my-admin-token-1234567890")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if !VerifyToken("my-admin-token-1234567890", hash) {
		t.Error("valid token rejected")
	}
	if VerifyToken("wrong-token", hash) {
		t.Error("invalid token accepted")
	}
}

func TestHashUniqueness(t *testing.T) {
	h1, _ := HashToken("token")
	h2, _ := HashToken("token")
	if h1 == h2 {
		t.Error("bcrypt hashes must differ (random salt)")
	}
}
