package handler

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"walletledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	RoleSuperAdmin = "super_admin"

	ctxUserID = "auth.user_id"
	ctxRole   = "auth.role"

	CallbackTokenHeader = "X-Callback-Token"
)

// Claims 访问令牌载荷：sub 为用户 ID，role 为角色
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// LoggerMiddleware 请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		entry := log.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
			"method":  c.Request.Method,
			"path":    path,
		})
		if c.Writer.Status() >= 500 {
			entry.Error("http")
			return
		}
		entry.Info("http")
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("panic", err).Error("请求处理 panic")
				response.ServerError(c, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware 校验 Bearer 令牌（HS256），把用户 ID 和角色放进上下文
func AuthMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Unauthorized(c, "缺少访问令牌")
			return
		}

		claims := new(Claims)
		token, err := parser.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			response.Unauthorized(c, "访问令牌无效")
			return
		}
		if claims.Subject == "" {
			response.Unauthorized(c, "访问令牌缺少用户")
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireRole 只允许指定角色访问
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != role {
			response.Forbidden(c, "没有权限")
			return
		}
		c.Next()
	}
}

// CallbackAuthMiddleware 支付网关回调用共享令牌鉴权
func CallbackAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(CallbackTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.Unauthorized(c, "回调令牌无效")
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) (string, error) {
	userID := c.GetString(ctxUserID)
	if userID == "" {
		return "", errors.New("未登录")
	}
	return userID, nil
}
