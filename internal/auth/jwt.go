package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
)

type JWTClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver accepts HS256 session tokens from the Authorization header, a session cookie,
// or a "token" query parameter, in that order.
type JWTResolver struct {
	secret     []byte
	cookieName string
}

func NewJWTResolver(secret, cookieName string) (*JWTResolver, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("missing JWT_SECRET_KEY")
	}
	return &JWTResolver{secret: []byte(secret), cookieName: cookieName}, nil
}

func (j *JWTResolver) Resolve(r *http.Request) (*ctxutil.Identity, error) {
	tokenString := j.extractToken(r)
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	return &ctxutil.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Sign mints a token the resolver accepts. Used by tests and local tooling.
func (j *JWTResolver) Sign(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWTResolver) extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if j.cookieName != "" {
		if ck, err := r.Cookie(j.cookieName); err == nil && ck.Value != "" {
			return ck.Value
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
