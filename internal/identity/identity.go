package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"

	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

// Verifier turns a bearer credential into an Identity.
type Verifier interface {
	VerifyCredential(ctx context.Context, token string) (Identity, error)
}

// Module provides the JWT verifier and issuer to Fx.
var Module = fx.Provide(
	NewJWT,
	func(j *JWT) Verifier { return j },
)

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Claims is the token payload.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWT verifies and issues HMAC signed tokens.
type JWT struct {
	secret    []byte
	issuer    string
	audience  string
	adminRole string
	ttl       time.Duration
	now       func() time.Time
}

// NewJWT builds a JWT from auth configuration.
func NewJWT(cfg config.Config) *JWT {
	return &JWT{
		secret:    []byte(cfg.Auth.JWTSecret),
		issuer:    cfg.Auth.Issuer,
		audience:  cfg.Auth.Audience,
		adminRole: cfg.Auth.AdminRole,
		ttl:       cfg.Auth.TokenTTL,
		now:       time.Now,
	}
}

// AdminRole is the role that bypasses ownership checks.
func (j *JWT) AdminRole() string {
	return j.adminRole
}

// VerifyCredential validates signature, expiry, issuer and audience.
func (j *JWT) VerifyCredential(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, errorbank.Unauthorized("missing bearer token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	if j.audience != "" {
		opts = append(opts, jwt.WithAudience(j.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return Identity{}, errorbank.Unauthorized(reason, errorbank.WithCause(err))
	}
	if claims.Subject == "" {
		return Identity{}, errorbank.Unauthorized("token has no subject")
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for userID with role. A zero ttl uses the configured one.
func (j *JWT) Issue(userID, role string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if ttl <= 0 {
		ttl = j.ttl
	}
	now := j.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
