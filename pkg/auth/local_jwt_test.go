package auth

import (
	"strings"
	"testing"
	"time"
)

func newTestAuth(t *testing.T) *JWTAuth {
	t.Helper()
	a, err := NewJWTAuth("test-secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create JWT auth: %v", err)
	}
	return a
}

func TestNewJWTAuth_Defaults(t *testing.T) {
	if _, err := NewJWTAuth("", 0, 0); err == nil {
		t.Fatal("Expected error for empty secret")
	}

	a, err := NewJWTAuth("secret", 0, 0)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if a.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("Expected 15m access expiry, got %v", a.AccessTokenExpiry)
	}
	if a.RefreshTokenExpiry != 7*24*time.Hour {
		t.Errorf("Expected 7d refresh expiry, got %v", a.RefreshTokenExpiry)
	}
}

func TestGenerateAndVerifyTokens(t *testing.T) {
	a := newTestAuth(t)
	p := Principal{ID: "user-1", Email: "asha@example.com", Role: "manager"}

	access, refresh, err := a.GenerateTokens(p, 3)
	if err != nil {
		t.Fatalf("Failed to generate tokens: %v", err)
	}

	got, err := a.VerifyAccessToken(access)
	if err != nil {
		t.Fatalf("Failed to verify access token: %v", err)
	}
	if *got != p {
		t.Errorf("Expected principal %+v, got %+v", p, *got)
	}

	claims, err := a.VerifyRefreshToken(refresh)
	if err != nil {
		t.Fatalf("Failed to verify refresh token: %v", err)
	}
	if claims.Version != 3 {
		t.Errorf("Expected version 3, got %d", claims.Version)
	}
	if claims.TokenID == "" {
		t.Error("Expected refresh token to carry a token ID")
	}
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	a := newTestAuth(t)
	access, refresh, err := a.GenerateTokens(Principal{ID: "user-1"}, 0)
	if err != nil {
		t.Fatalf("Failed to generate tokens: %v", err)
	}

	if _, err := a.VerifyAccessToken(refresh); err == nil {
		t.Error("Expected refresh token to be rejected as access token")
	}
	if _, err := a.VerifyRefreshToken(access); err == nil {
		t.Error("Expected access token to be rejected as refresh token")
	}
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	a := newTestAuth(t)
	issued := time.Now()
	a.now = func() time.Time { return issued }

	access, _, err := a.GenerateTokens(Principal{ID: "user-1"}, 0)
	if err != nil {
		t.Fatalf("Failed to generate tokens: %v", err)
	}

	a.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := a.VerifyAccessToken(access); err == nil {
		t.Fatal("Expected expired token to be rejected")
	}
}

func TestVerifyAccessToken_WrongSecret(t *testing.T) {
	a := newTestAuth(t)
	access, _, _ := a.GenerateTokens(Principal{ID: "user-1"}, 0)

	other, _ := NewJWTAuth("other-secret", time.Minute, time.Hour)
	if _, err := other.VerifyAccessToken(access); err == nil {
		t.Fatal("Expected token signed with another secret to be rejected")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def", "abc.def", false},
		{"bearer abc.def", "abc.def", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
		{"abc.def", "", true},
	}

	for _, tt := range tests {
		got, err := ExtractToken(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("ExtractToken(%q): expected error=%v, got %v", tt.header, tt.wantErr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractToken(%q): expected %q, got %q", tt.header, tt.want, got)
		}
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	a := newTestAuth(t)

	hash, err := a.HashPassword("s3cretpass")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$") {
		t.Errorf("Expected argon2id hash, got %s", hash)
	}

	ok, err := a.VerifyPassword(hash, "s3cretpass")
	if err != nil || !ok {
		t.Errorf("Expected password to verify, got ok=%v err=%v", ok, err)
	}
	ok, _ = a.VerifyPassword(hash, "wrongpass1")
	if ok {
		t.Error("Expected wrong password to fail")
	}

	second, _ := a.HashPassword("s3cretpass")
	if second == hash {
		t.Error("Expected different salts to give different hashes")
	}

	if _, err := a.VerifyPassword("plain", "s3cretpass"); err == nil {
		t.Error("Expected malformed hash to return an error")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"abc12345", true},
		{"short1", false},
		{"onlyletters", false},
		{"12345678", false},
	}

	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if (err == nil) != tt.valid {
			t.Errorf("ValidatePassword(%q): expected valid=%v, got %v", tt.password, tt.valid, err)
		}
	}
}
