package views

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/services"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const userContextKey = "user"

// Authenticator 校验 Bearer 令牌并加载用户
type Authenticator struct {
	db     *gorm.DB
	secret []byte
}

func NewAuthenticator(db *gorm.DB, secret string) *Authenticator {
	return &Authenticator{db: db, secret: []byte(secret)}
}

// IssueToken 签发 HS256 令牌, sub 为用户id
func (a *Authenticator) IssueToken(userID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) userFromToken(raw string) (*models.User, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	var user models.User
	if err := a.db.First(&user, uint(id)).Error; err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, errors.New("user is inactive")
	}
	return &user, nil
}

// Middleware 有合法令牌时放入用户; 没有令牌或令牌无效都按匿名继续
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || len(a.secret) == 0 {
			c.Next()
			return
		}
		if user, err := a.userFromToken(strings.TrimSpace(raw)); err == nil {
			c.Set(userContextKey, user)
		}
		c.Next()
	}
}

// RequireUser 需要登录
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			writeError(c, services.ErrAuthRequired)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireWriter 需要管理员或工作人员
func RequireWriter() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			writeError(c, services.ErrAuthRequired)
			c.Abort()
			return
		}
		if !services.CanWrite(user) {
			writeError(c, services.ErrAccessDenied)
			c.Abort()
			return
		}
		c.Next()
	}
}
