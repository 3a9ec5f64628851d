package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/pkg/jwt"
)

// UserContextKey is the key used to store user information in Gin context
const UserContextKey = "user"

// UserContext represents the authenticated caller
type UserContext struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Roles  []string  `json:"roles"`
}

// HasRole reports whether the caller holds role
func (u UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthMiddleware rejects requests without a valid bearer token
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"ip":   c.ClientIP(),
		})

		tokenString, code, message := bearerToken(c.GetHeader("Authorization"))
		if code != "" {
			log.WithField("code", code).Warn("Auth failed")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": message,
				"code":    code,
			})
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			if jwt.IsExpired(err) {
				log.Info("Auth failed: token expired")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "token_expired",
					"message": "Access token has expired. Please sign in again.",
					"code":    "TOKEN_EXPIRED",
				})
			} else {
				log.WithError(err).Warn("Auth failed: invalid token")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "invalid_token",
					"message": "Invalid access token",
					"code":    "INVALID_TOKEN",
				})
			}
			c.Abort()
			return
		}

		c.Set(UserContextKey, UserContext{UserID: claims.UserID, Email: claims.Email, Roles: claims.Roles})
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid token is present and never rejects.
// Buyers may book anonymously.
func OptionalAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code, _ := bearerToken(c.GetHeader("Authorization"))
		if code == "" {
			if claims, err := jwtService.ValidateAccessToken(tokenString); err == nil {
				c.Set(UserContextKey, UserContext{UserID: claims.UserID, Email: claims.Email, Roles: claims.Roles})
			}
		}
		c.Next()
	}
}

// RequireRole checks that the authenticated caller has any of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "User context not found. Auth middleware may not be applied.",
				"code":    "MISSING_USER_CONTEXT",
			})
			c.Abort()
			return
		}

		for _, role := range roles {
			if userCtx.HasRole(role) {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You don't have permission to access this resource",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
		c.Abort()
	}
}

// GetUserContext retrieves the user context from Gin context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}
	userCtx, ok := value.(UserContext)
	return userCtx, ok
}

// UserID returns the caller's id, or nil for anonymous requests
func UserID(c *gin.Context) *uuid.UUID {
	userCtx, ok := GetUserContext(c)
	if !ok {
		return nil
	}
	id := userCtx.UserID
	return &id
}

// bearerToken extracts the token. A non-empty code means the header was unusable.
func bearerToken(header string) (token, code, message string) {
	if header == "" {
		return "", "MISSING_AUTH_HEADER", "Authorization header is required"
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "INVALID_AUTH_FORMAT", "Invalid authorization header format. Expected: Bearer <token>"
	}
	token = strings.TrimSpace(parts[1])
	if token == "" {
		return "", "INVALID_AUTH_FORMAT", "Token cannot be empty"
	}
	return token, "", ""
}
