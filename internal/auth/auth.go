package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptySecret  = errors.New("empty signing secret")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims 携带用户 ID 与 4 位加入码，客户端拿到后可直接用于 create_room 等事件。
type Claims struct {
	UserID   string `json:"uid"`
	UUIDCode string `json:"code"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(userID, uuidCode, secret string, ttlMinutes int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		UUIDCode: uuidCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// UserFinder 按 ID 查找用户，由会话存储实现。
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (models.User, error)
}

// AuthMiddleware 校验 Bearer Token 并把用户写入 gin.Context。
func AuthMiddleware(secret string, users UserFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := ParseAccessToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, err := users.FindUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// GetUser 返回 AuthMiddleware 写入的用户。
func GetUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get("user")
	if !ok {
		return models.User{}, false
	}
	u, ok := v.(models.User)
	return u, ok
}
