package utils

import (
	"errors"
	"fmt"
	"time"

	"skillswap-chat/pkg/config"

	"github.com/golang-jwt/jwt/v5"
)

// 自定义JWT声明结构
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// 密钥在调用时读取，配置可能晚于包初始化加载
func jwtSecret() []byte {
	return []byte(config.GlobalConfig.JWT.Secret)
}

// 生成JWT令牌，签发由账号服务负责，这里只用于测试和开发客户端
func GenerateToken(userID, name string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	expiration := config.GlobalConfig.JWT.Expiration
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			// 过期时间
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			// 签发时间
			IssuedAt: jwt.NewNumericDate(now),
			// 生效时间
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	// 生成带有声明的token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// 签名token
	return token.SignedString(jwtSecret())
}

// 解析JWT令牌
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.UserID == "" {
			return nil, errors.New("token without user id")
		}
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
