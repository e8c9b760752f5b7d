package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the admin session's JWT payload. There is exactly one admin
// identity (cfg.Admin.Username) — this module has no multi-user store,
// unlike mbp/api's DB-backed user table.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func hashPassword(pw string) string {
	sum := sha256.Sum256([]byte(pw))
	return hex.EncodeToString(sum[:])
}

func (s *Server) makeToken(username string) (string, error) {
	ttl := s.App.Cfg.Admin.TokenTTL
	if ttl <= 0 {
		ttl = 1440
	}
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttl) * time.Minute)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(s.App.Cfg.Admin.JWTSecret))
}

func (s *Server) parseToken(tk string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tk, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(s.App.Cfg.Admin.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return c, nil
}

// AuthRequired parses "Authorization: Bearer <token>".
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tk := strings.TrimSpace(auth[len("bearer "):])
		claims, err := s.parseToken(tk)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("username", claims.Username)
		c.Next()
	}
}

// login is the only unauthenticated mutation-adjacent endpoint; it is
// rate-limited per source IP and username via bruteguard the same way
// mbp/api/auth.go's login handler is.
func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	u := strings.TrimSpace(req.Username)
	p := strings.TrimSpace(req.Password)
	if u == "" || p == "" {
		errJSON(c, http.StatusBadRequest, "username/password required")
		return
	}

	ip := c.ClientIP()
	if s.App.Guard != nil {
		if ok, retry := s.App.Guard.Allow(ip, u); !ok {
			if retry > 0 {
				c.Header("Retry-After", retry.String())
			}
			errJSON(c, http.StatusTooManyRequests, "too many attempts")
			return
		}
	}

	admin := s.App.Cfg.Admin
	validUser := subtle.ConstantTimeCompare([]byte(u), []byte(admin.Username)) == 1
	validPass := subtle.ConstantTimeCompare([]byte(hashPassword(p)), []byte(admin.PasswordSHA256)) == 1
	if !validUser || !validPass {
		if s.App.Guard != nil {
			s.App.Guard.Fail(ip, u)
		}
		errJSON(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if s.App.Guard != nil {
		s.App.Guard.Success(ip, u)
	}

	tok, err := s.makeToken(u)
	if err != nil {
		errJSON(c, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"token": tok})
}
