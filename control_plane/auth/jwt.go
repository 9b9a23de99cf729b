package auth

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the kubepilot-specific fields on top of the registered
// JWT claims. Role is "admin" or "operator".
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

const (
	issuer   = "kubepilot"
	audience = "kubepilot-api"
	tokenTTL = 24 * time.Hour
)

var jwtSecret []byte

func init() {
	secretEnv := os.Getenv("JWT_SECRET")
	switch {
	case secretEnv == "":
		// Blocked-network dev only. Any real deployment must set JWT_SECRET.
		log.Println("WARNING: JWT_SECRET not set. Using insecure default for dev mode ONLY.")
		jwtSecret = []byte("insecure_default_secret_for_dev_mode_only_32bytes")
	case len(secretEnv) < 32:
		panic("CRITICAL SECURITY ERROR: JWT_SECRET must be at least 32 characters long.")
	default:
		jwtSecret = []byte(secretEnv)
	}
}

// GenerateToken creates a signed HS256 token for the given user and role.
func GenerateToken(userID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

// ValidateToken parses and verifies a token string, rejecting anything not
// signed with HS256 by our secret.
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(audience))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing user_id")
	}
	return claims, nil
}
