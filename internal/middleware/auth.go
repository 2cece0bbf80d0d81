package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/service"
)

// PlayerClaimsKey is the gin context key holding *service.PlayerClaims.
const PlayerClaimsKey = "player_claims"

// ErrMissingToken means the request carried no player token.
var ErrMissingToken = errors.New("missing player token")

// PlayerAuth verifies the player token of a request and stores its claims under
// PlayerClaimsKey. With tokens disabled it passes every request through.
func PlayerAuth(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokens.Enabled() {
			c.Next()
			return
		}
		tokenStr, err := extractToken(c)
		if err != nil {
			logrus.WithField("client_ip", c.ClientIP()).WithError(err).Warn("Auth middleware: No usable token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrInvalidToken.Error()})
			c.Abort()
			return
		}
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			logrus.WithField("client_ip", c.ClientIP()).WithError(err).Warn("Auth middleware: Invalid token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set(PlayerClaimsKey, claims)
		logrus.WithFields(logrus.Fields{"room_id": claims.RoomID, "player_id": claims.PlayerID}).Debug("Auth middleware: Player authenticated")
		c.Next()
	}
}

// ClaimsFrom returns the claims PlayerAuth stored, or nil.
func ClaimsFrom(c *gin.Context) *service.PlayerClaims {
	v, ok := c.Get(PlayerClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*service.PlayerClaims)
	return claims
}

// extractToken reads a Bearer token, falling back to ?token= since browsers cannot
// set headers on a websocket upgrade.
func extractToken(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", service.ErrInvalidToken
		}
		return parts[1], nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}
