// Package auth turns bearer tokens issued by the identity service into the
// actor an operation runs as. Tokens are HS256 JWTs carrying sub, username
// and role claims.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

type contextKey string

const actorContextKey contextKey = "actor"

type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) ParseActor(tokenString string) (models.Actor, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second))
	if err != nil || !tok.Valid {
		return models.Actor{}, ErrInvalidToken
	}

	sub := stringClaim(claims, "sub")
	role := models.Role(strings.ToUpper(stringClaim(claims, "role")))
	if sub == "" {
		return models.Actor{}, errors.New("missing subject claim")
	}
	switch role {
	case models.RoleSponsor, models.RoleBeneficiary, models.RoleAdmin:
	default:
		return models.Actor{}, errors.New("unknown role claim")
	}
	return models.Actor{ID: sub, Username: stringClaim(claims, "username"), Role: role}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	v, ok := ctx.Value(actorContextKey).(models.Actor)
	return v, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// actor on the request context.
func Middleware(verifier *JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		actor, err := verifier.ParseActor(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// RequireAdmin must run after Middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c.Request.Context())
		if !ok || !actor.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
