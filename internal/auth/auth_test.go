package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/internal/models"

	"github.com/gin-gonic/gin"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestHashPassword_DifferentHashes(t *testing.T) {
	password := "testpassword"
	hash1, _ := HashPassword(password)
	hash2, _ := HashPassword(password)

	if hash1 == hash2 {
		t.Error("HashPassword() should produce different hashes for same password")
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateAccessToken(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		secret     string
		ttlMinutes int
		wantErr    bool
	}{
		{"valid token", "u-1", "test-secret", 15, false},
		{"empty user id", "", "test-secret", 15, false},
		{"empty secret", "u-1", "", 15, true},
		{"zero ttl", "u-1", "test-secret", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateAccessToken(tt.userID, "AB12", tt.secret, tt.ttlMinutes)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && token == "" {
				t.Error("GenerateAccessToken() returned empty token")
			}
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	userID := "9b2f7c1e-0000-4000-8000-000000000042"

	token, err := GenerateAccessToken(userID, "BE1X", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID string
		wantErr bool
	}{
		{"valid token", token, secret, userID, false},
		{"wrong secret", token, "wrong-secret", "", true},
		{"invalid token", "invalid.token.here", secret, "", true},
		{"empty token", "", secret, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if claims.UserID != tt.wantUID {
					t.Errorf("ParseAccessToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
				}
				if claims.UUIDCode != "BE1X" {
					t.Errorf("ParseAccessToken() UUIDCode = %v, want BE1X", claims.UUIDCode)
				}
			}
		})
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	secret := "test-secret"
	// Generate token with -1 minute TTL (already expired)
	token, err := GenerateAccessToken("u-1", "AB12", secret, -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if err == nil {
		t.Error("ParseAccessToken() should return error for expired token")
	}
	if claims != nil {
		t.Error("ParseAccessToken() should return nil claims for expired token")
	}
}

type fakeUsers map[string]models.User

func (f fakeUsers) FindUserByID(_ context.Context, id string) (models.User, error) {
	u, ok := f[id]
	if !ok {
		return models.User{}, errors.New("not found")
	}
	return u, nil
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := "mw-secret"
	users := fakeUsers{"u-1": {ID: "u-1", Email: "ann@example.com", UUIDCode: "AB12"}}

	valid, _ := GenerateAccessToken("u-1", "AB12", secret, 5)
	ghost, _ := GenerateAccessToken("u-404", "ZZZZ", secret, 5)

	r := gin.New()
	r.GET("/me", AuthMiddleware(secret, users), func(c *gin.Context) {
		u, _ := GetUser(c)
		c.JSON(http.StatusOK, gin.H{"id": u.ID, "email": u.Email})
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lower-case scheme", "bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"unknown user", "Bearer " + ghost, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestGetUser_Unset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if _, ok := GetUser(c); ok {
		t.Error("GetUser() should report false when unset")
	}
}
