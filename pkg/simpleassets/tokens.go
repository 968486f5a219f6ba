package simpleassets

import (
	"fmt"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/jwt"
)

// DefaultTokenLifetime is the validity of an issued token
const DefaultTokenLifetime = 3 * time.Hour

const signingAlgorithm = "HS256"

// TokenConfig configures a TokenIssuer
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	Lifetime   time.Duration
}

// TokenIssuer signs and verifies HS256 bearer tokens
type TokenIssuer struct {
	auth     *jwtauth.JWTAuth
	issuer   string
	audience string
	lifetime time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates an issuer. It fails with a ConfigurationError when the
// signing key, issuer or audience is missing.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, &ConfigurationError{Field: "JWT_SECRET"}
	}
	if cfg.Issuer == "" {
		return nil, &ConfigurationError{Field: "JWT_VALID_ISSUER"}
	}
	if cfg.Audience == "" {
		return nil, &ConfigurationError{Field: "JWT_VALID_AUDIENCE"}
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultTokenLifetime
	}
	return &TokenIssuer{
		auth:     jwtauth.New(signingAlgorithm, cfg.SigningKey, nil),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		lifetime: cfg.Lifetime,
		now:      time.Now,
	}, nil
}

// Issue builds a signed token for the identity. Every token carries a fresh
// token id, so two tokens for the same subject never coincide.
func (ti *TokenIssuer) Issue(identity *Identity) (*Token, error) {
	if identity == nil || identity.Username == "" {
		return nil, missingField("subject")
	}

	now := ti.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ti.lifetime)
	tokenID := uuid.NewString()

	roles := make([]string, 0, len(identity.Roles))
	roles = append(roles, identity.Roles...)

	claims := map[string]interface{}{
		string(ClaimSubject):  identity.Username,
		string(ClaimTokenID):  tokenID,
		string(ClaimRoles):    roles,
		string(ClaimIssuer):   ti.issuer,
		string(ClaimAudience): ti.audience,
	}
	jwtauth.SetIssuedAt(claims, now)
	jwtauth.SetExpiry(claims, expiresAt)

	_, signed, err := ti.auth.Encode(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{
		Value:     signed,
		ID:        tokenID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks the signature, expiry, issuer and audience of a token and
// returns its claims. Every rejection wraps ErrUnauthorized.
func (ti *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	token, err := ti.auth.Decode(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if token == nil {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	err = jwt.Validate(token,
		jwt.WithClock(jwt.ClockFunc(ti.now)),
		jwt.WithIssuer(ti.issuer),
		jwt.WithAudience(ti.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if token.Expiration().IsZero() {
		return nil, fmt.Errorf("%w: token has no expiry", ErrUnauthorized)
	}

	claims := &Claims{
		Subject:   token.Subject(),
		TokenID:   token.JwtID(),
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: token.Expiration(),
	}
	if raw, ok := token.Get(string(ClaimRoles)); ok {
		claims.Roles = rolesFromClaim(raw)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims, nil
}

func rolesFromClaim(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	case string:
		return []string{v}
	}
	return nil
}
