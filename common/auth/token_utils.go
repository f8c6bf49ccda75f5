package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Claims is the subset of access-token claims the service relies on.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// TokenVerifier validates HMAC-signed access tokens.
type TokenVerifier struct {
	secretKey []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &TokenVerifier{}
	}
	return &TokenVerifier{secretKey: []byte(secret)}
}

// ParseAndValidateToken parses a JWT token string and returns its claims.
// If expectedType is non-empty, the claim "typ" must match it.
func (v *TokenVerifier) ParseAndValidateToken(tokenStr, expectedType string) (*Claims, error) {
	if v.secretKey == nil {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secretKey, nil
	})

	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if expectedType != "" {
		if typ, ok := mc["typ"].(string); !ok || typ != expectedType {
			return nil, fmt.Errorf("invalid token type")
		}
	}

	claims := &Claims{
		UserID: stringClaim(mc, "user_id"),
		Email:  stringClaim(mc, "email"),
		Role:   stringClaim(mc, "role"),
	}
	if claims.UserID == "" {
		claims.UserID = stringClaim(mc, "sub")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func stringClaim(mc jwt.MapClaims, key string) string {
	if v, ok := mc[key].(string); ok {
		return v
	}
	return ""
}
