package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseActor(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	signed := sign(t, "test-secret", jwt.MapClaims{
		"sub":      "user-1",
		"username": "ada",
		"role":     "admin",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	actor, err := verifier.ParseActor(signed)
	if err != nil {
		t.Fatalf("parse actor: %v", err)
	}
	if actor.ID != "user-1" || actor.Username != "ada" || actor.Role != models.RoleAdmin {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseActorRejectsBadTokens(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	tests := map[string]string{
		"wrong secret": sign(t, "other", jwt.MapClaims{"sub": "u", "role": "SPONSOR"}),
		"expired":      sign(t, "test-secret", jwt.MapClaims{"sub": "u", "role": "SPONSOR", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no subject":   sign(t, "test-secret", jwt.MapClaims{"role": "SPONSOR"}),
		"unknown role": sign(t, "test-secret", jwt.MapClaims{"sub": "u", "role": "OWNER"}),
		"garbage":      "not-a-jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := verifier.ParseActor(token); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := NewJWTVerifier("test-secret")

	r := gin.New()
	r.GET("/me", Middleware(verifier), func(c *gin.Context) {
		actor, _ := ActorFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": actor.ID})
	})
	r.GET("/admin", Middleware(verifier), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	sponsor := sign(t, "test-secret", jwt.MapClaims{"sub": "user-2", "role": "SPONSOR"})
	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "no header", path: "/me", want: http.StatusUnauthorized},
		{name: "bad token", path: "/me", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", path: "/me", header: "Bearer " + sponsor, want: http.StatusOK},
		{name: "sponsor on admin route", path: "/admin", header: "Bearer " + sponsor, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status: got=%d want=%d body=%s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
