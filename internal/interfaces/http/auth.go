package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
)

const actorKey = "ewd.actor"

// authMiddleware authenticates HS256 bearer tokens. The subject claim is the
// actor id; roles are looked up in the directory on every request.
func (s *Server) authMiddleware() gin.HandlerFunc {
	secret := []byte(s.config.JWTSecret)

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.config.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			fail(c, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return secret, nil
		})
		if err != nil {
			fail(c, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		if claims.Subject == "" {
			fail(c, http.StatusUnauthorized, "unauthenticated", "token has no subject")
			return
		}

		roles, err := s.deps.Directory.RolesOf(c.Request.Context(), claims.Subject)
		if err != nil {
			s.logger.Error("Failed to resolve actor roles", "actor", claims.Subject, "error", err)
			fail(c, http.StatusInternalServerError, "internal", "internal error")
			return
		}

		c.Set(actorKey, entity.Actor{ID: claims.Subject, Roles: roles})
		c.Next()
	}
}

// actorFrom returns the authenticated actor of the request
func actorFrom(c *gin.Context) (entity.Actor, bool) {
	v, exists := c.Get(actorKey)
	if !exists {
		return entity.Actor{}, false
	}
	actor, ok := v.(entity.Actor)
	return actor, ok
}
