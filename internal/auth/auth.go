// Package auth authenticates HTTP callers with HS256 bearer tokens whose
// subject is a Telegram user id.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeAdmin lets a token act on behalf of any user.
const ScopeAdmin = "ledger:admin"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID int64
	Scopes map[string]struct{}
}

// Admin reports whether the principal carries ScopeAdmin.
func (p *Principal) Admin() bool {
	_, ok := p.Scopes[ScopeAdmin]
	return ok
}

// CanActFor reports whether the principal may read or move funds of owner.
func (p *Principal) CanActFor(owner int64) bool {
	return p.Admin() || p.UserID == owner
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller installed by Authenticate.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Claims are the token claims understood by the ledger API.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

type Validator struct {
	Secret []byte
	Issuer string
	// Now overrides the clock used for exp/nbf checks.
	Now func() time.Time
}

func NewValidator(secret, issuer string) *Validator {
	return &Validator{Secret: []byte(secret), Issuer: issuer}
}

// Validate parses tokenString and returns the principal it names.
func (v *Validator) Validate(tokenString string) (*Principal, error) {
	if len(v.Secret) == 0 {
		return nil, errors.New("missing signing secret")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}

	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return nil, ErrInvalidToken
	}
	scopes := make(map[string]struct{}, len(claims.Scopes))
	for _, s := range claims.Scopes {
		scopes[s] = struct{}{}
	}
	return &Principal{UserID: uid, Scopes: scopes}, nil
}

// Issue signs a token for userID. Used by operators and tests.
func (v *Validator) Issue(userID int64, ttl time.Duration, scopes ...string) (string, error) {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

// Authenticate rejects requests without a valid bearer token and installs
// the Principal otherwise.
func Authenticate(v *Validator, onError func(http.ResponseWriter, *http.Request, int, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			p, err := v.Validate(tok)
			if err != nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
