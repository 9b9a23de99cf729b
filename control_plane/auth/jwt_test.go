package auth

import (
	"strings"
	"testing"
)

func TestGenerateAndValidate(t *testing.T) {
	token, err := GenerateToken("user-1", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	token, err := GenerateToken("user-1", "operator")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + "AAAA" + parts[2][4:]
	if _, err := ValidateToken(tampered); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if _, err := ValidateToken("not-a-token"); err == nil {
		t.Fatal("garbage token accepted")
	}
	if _, err := ValidateToken(""); err == nil {
		t.Fatal("empty token accepted")
	}
}
