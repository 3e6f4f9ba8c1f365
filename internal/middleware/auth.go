package middleware

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// ContextWalletID gin context key of the authenticated wallet
const ContextWalletID = "wallet_id"

// Claims API session token claims
type Claims struct {
	WalletID string `json:"wallet_id"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 session tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	logger *logrus.Entry
}

// NewTokenManager uses secret, or a random per-process secret when empty, in
// which case tokens do not survive a restart.
func NewTokenManager(secret string, ttl time.Duration, logger *logrus.Entry) (*TokenManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		logger.Warn("[Auth] no JWT secret configured, sessions end on restart")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secret: key, ttl: ttl, logger: logger}, nil
}

// Issue signs a token for walletID.
func (m *TokenManager) Issue(walletID string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(m.ttl)
	claims := Claims{
		WalletID: walletID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   walletID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Validate parses and checks a token.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.WalletID == "" {
		return nil, errors.New("token has no wallet")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token.
func (m *TokenManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.reject(c, "Authentication required", "MISSING_AUTH_HEADER", nil)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			m.reject(c, "Authorization header must be in format: Bearer <token>", "INVALID_AUTH_FORMAT", nil)
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			m.reject(c, "Token cannot be empty", "EMPTY_TOKEN", nil)
			return
		}

		claims, err := m.Validate(tokenString)
		if err != nil {
			m.reject(c, "Invalid or expired token", "INVALID_TOKEN", err)
			return
		}
		c.Set(ContextWalletID, claims.WalletID)
		c.Next()
	}
}

func (m *TokenManager) reject(c *gin.Context, msg, code string, err error) {
	fields := logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"code":   code,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Warn("[Auth] request rejected")

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}
