package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type authCtxKey int

const authKey authCtxKey = 7

const researcherAudience = "moderator-researcher"

// Claims identifies a researcher allowed to read study data.
type Claims struct {
	Researcher string `json:"researcher"`
	jwt.RegisteredClaims
}

// SignResearcherToken mints an HS256 token for the export endpoints.
func SignResearcherToken(secret []byte, researcher string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("researcher secret not configured")
	}
	now := time.Now()
	claims := Claims{
		Researcher: researcher,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   researcher,
			Audience:  jwt.ClaimStrings{researcherAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(researcherAudience))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// RequireResearcher rejects requests without a valid researcher bearer token.
// With an empty secret every request is rejected.
func RequireResearcher(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			tok, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || len(secret) == 0 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			c, err := parseToken(secret, strings.TrimSpace(tok))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authKey, c)))
		})
	}
}

func ResearcherFromContext(ctx context.Context) (string, bool) {
	if c, ok := ctx.Value(authKey).(*Claims); ok && c.Researcher != "" {
		return c.Researcher, true
	}
	return "", false
}
