package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenService verifies the HS256 bearer tokens issued by the account
// service. The subject claim carries the numeric user id.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// GenerateToken signs a token for userID. Production tokens come from the
// account service; this is used for development tokens and tests.
func (s *TokenService) GenerateToken(userID int64, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", errors.New("user ID must be positive")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyToken checks the signature and expiry and returns the user id.
func (s *TokenService) VerifyToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, ErrInvalidToken
	}

	// Some issuers write the subject as a JSON number.
	switch sub := claims["sub"].(type) {
	case string:
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil || id <= 0 {
			return 0, ErrInvalidToken
		}
		return id, nil
	case float64:
		if sub <= 0 {
			return 0, ErrInvalidToken
		}
		return int64(sub), nil
	}

	return 0, ErrInvalidToken
}
