package security

import "testing"

func TestGenerateDeployTokenIsUnique(t *testing.T) {
	a, err := GenerateDeployToken()
	if err != nil {
		t.Fatalf("GenerateDeployToken() error = %v", err)
	}
	b, err := GenerateDeployToken()
	if err != nil {
		t.Fatalf("GenerateDeployToken() error = %v", err)
	}
	if a == b {
		t.Error("two generated tokens should not collide")
	}
	if len(a) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(a))
	}
}

func TestHashAndVerifyDeployToken(t *testing.T) {
	token, err := GenerateDeployToken()
	if err != nil {
		t.Fatalf("GenerateDeployToken() error = %v", err)
	}

	hash := HashDeployToken(token)
	if hash == token {
		t.Error("hash should not equal plaintext token")
	}
	if got := HashDeployToken(token); got != hash {
		t.Error("HashDeployToken() should be deterministic for the same input")
	}

	if !VerifyDeployToken(hash, token) {
		t.Error("VerifyDeployToken() should accept the matching token")
	}
	if VerifyDeployToken(hash, "wrong-token") {
		t.Error("VerifyDeployToken() should reject a mismatched token")
	}
}
