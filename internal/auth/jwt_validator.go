package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator validates RS256 operator tokens
type JWTValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
}

// NewJWTValidator creates a new JWT validator from a PEM encoded public key.
// When issuer is set, tokens must carry a matching iss claim.
func NewJWTValidator(publicKeyPEM, issuer string) (*JWTValidator, error) {
	if publicKeyPEM == "" {
		return nil, fmt.Errorf("public key PEM is required")
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block containing public key")
	}

	publicKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPublicKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not an RSA key")
	}

	return &JWTValidator{
		publicKey: rsaPublicKey,
		issuer:    issuer,
	}, nil
}

// Validate validates a token, with or without the Bearer prefix, and
// returns the subject it was issued to
func (v *JWTValidator) Validate(token string) (subject string, err error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("empty token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		// Tolerate small clock skew between issuer and service
		jwt.WithLeeway(time.Minute),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to parse JWT token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}

	subject = strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("subject claim (sub) is missing")
	}
	return subject, nil
}
