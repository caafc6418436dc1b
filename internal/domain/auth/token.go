package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for bearer tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier checks HS256 bearer tokens whose subject is the user id.
type TokenVerifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewTokenVerifier returns a verifier for tokens signed with secret. When
// issuer is non-empty the iss claim must match it.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &TokenVerifier{
		secret: secret,
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}
}

// Verify parses raw and returns the authenticated user id.
func (v *TokenVerifier) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" {
		return "", errors.Wrap(ErrInvalidToken, "missing subject")
	}
	return claims.Subject, nil
}

// Issue signs a token for userID valid for ttl. Used by the seeding tool and
// tests.
func (v *TokenVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
