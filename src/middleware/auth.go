package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/khabaroff/pcn-tracker/src/models"
)

// ActorKey is the gin context key holding the authenticated models.Actor
const ActorKey = "actor"

const tokenIssuer = "pcn-tracker"

// ErrWeakSecret is returned for JWT secrets shorter than 32 characters
var ErrWeakSecret = errors.New("JWT_SECRET must be at least 32 characters long")

// ActorClaims are the JWT claims identifying a closer, manager or operator
type ActorClaims struct {
	Name       string   `json:"name,omitempty"`
	Role       string   `json:"role,omitempty"`
	CompanyIDs []string `json:"company_ids"`
	jwt.RegisteredClaims
}

// CheckSecret rejects secrets too short for HS256
func CheckSecret(secret string) error {
	if len(secret) < 32 {
		return ErrWeakSecret
	}
	return nil
}

// GenerateActorToken signs a token for actor valid for ttl
func GenerateActorToken(secret string, actor models.Actor, ttl time.Duration) (string, error) {
	if err := CheckSecret(secret); err != nil {
		return "", err
	}

	ids := make([]string, 0, len(actor.CompanyIDs))
	for _, id := range actor.CompanyIDs {
		ids = append(ids, id.String())
	}

	now := time.Now()
	claims := ActorClaims{
		Name:       actor.Name,
		Role:       actor.Role,
		CompanyIDs: ids,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateActorToken verifies tokenString and returns the actor it names
func ValidateActorToken(secret, tokenString string) (models.Actor, error) {
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return models.Actor{}, errors.New("invalid token")
	}

	actor := models.Actor{UserID: claims.Subject, Name: claims.Name, Role: claims.Role}
	for _, raw := range claims.CompanyIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return models.Actor{}, fmt.Errorf("invalid token: bad company id %q", raw)
		}
		actor.CompanyIDs = append(actor.CompanyIDs, id)
	}
	return actor, nil
}

// ActorAuth requires a valid actor bearer token
func ActorAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication token"})
			c.Abort()
			return
		}

		actor, err := ValidateActorToken(secret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ActorKey, actor)
		c.Next()
	}
}

// JobAuth guards the job trigger endpoints. It accepts the shared job token,
// or an actor token with the cross-company role.
func JobAuth(jobToken, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication token"})
			c.Abort()
			return
		}

		if jobToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(jobToken)) == 1 {
			c.Set(ActorKey, models.Actor{UserID: "job-runner", Role: models.RoleCrossCompany})
			c.Next()
			return
		}

		actor, err := ValidateActorToken(secret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}
		if actor.Role != models.RoleCrossCompany {
			c.JSON(http.StatusForbidden, gin.H{"error": "job triggers require the super_admin role"})
			c.Abort()
			return
		}

		c.Set(ActorKey, actor)
		c.Next()
	}
}

// GetActor returns the actor stored by ActorAuth or JobAuth
func GetActor(c *gin.Context) (models.Actor, bool) {
	v, exists := c.Get(ActorKey)
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
