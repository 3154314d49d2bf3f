package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"glowcheck.app/ingredient-assistant/internal/config"
)

// GenerateJWT mints a token for the given subject. Exposed through the
// server's -mint-token flag for handing out access to the assistant.
func GenerateJWT(subject string) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour * 24).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.AuthJWTSecret))
}

// ValidateJWT checks the signature and returns the token's subject.
func ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.AuthJWTSecret), nil
	})

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		sub, _ := claims["sub"].(string)
		return sub, nil
	}

	return "", fmt.Errorf("invalid token")
}
