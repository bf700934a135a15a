package memory

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator stands in for the identity service when the store runs
// in-process. It returns an error for tokens the service would reject.
type TokenValidator func(token string) error

// JWTValidator accepts HS256-signed tokens carrying a subject.
func JWTValidator(secret []byte) TokenValidator {
	return func(tokenString string) error {
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			return fmt.Errorf("invalid token: %v", err)
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				return nil
			}
		}
		return fmt.Errorf("invalid token claims")
	}
}
