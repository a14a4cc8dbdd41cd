package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/namespace"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
	"github.com/kohakuhub/server/internal/shared/response"
)

const identityKey = "identity"

// Authenticator resolves API tokens to identities. Tokens arrive either as a
// Bearer header or as the password half of git basic auth.
type Authenticator struct {
	db          *gorm.DB
	adminSecret string
	log         *logger.Logger
}

// NewAuthenticator creates the authenticator.
func NewAuthenticator(db *gorm.DB, adminSecret string, log *logger.Logger) *Authenticator {
	return &Authenticator{db: db, adminSecret: adminSecret, log: log}
}

// Optional attaches an identity when credentials are present and valid, and
// lets the request through anonymously otherwise. Invalid credentials are
// rejected so callers never silently act as anonymous.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		if a.adminSecret != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(a.adminSecret)) == 1 {
			c.Set(identityKey, &namespace.Identity{IsAdmin: true})
			c.Next()
			return
		}

		identity, err := a.resolve(c, token)
		if err != nil {
			response.Error(c, apperrors.Unauthorized("invalid token"))
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// Required rejects anonymous requests. Runs after Optional.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := CurrentIdentity(c)
		if identity.Anonymous() && !identity.Admin() {
			response.Error(c, apperrors.Unauthorized(""))
			return
		}
		c.Next()
	}
}

// AdminOnly rejects anything but the admin secret identity.
func (a *Authenticator) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentIdentity(c).Admin() {
			response.Error(c, apperrors.Forbidden("admin token required"))
			return
		}
		c.Next()
	}
}

func (a *Authenticator) resolve(c *gin.Context, token string) (*namespace.Identity, error) {
	sum := sha256.Sum256([]byte(token))
	hash := hex.EncodeToString(sum[:])

	ctx := c.Request.Context()

	var row model.Token
	if err := a.db.WithContext(ctx).Where("token_hash = ?", hash).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, err
	}

	var user model.User
	if err := a.db.WithContext(ctx).First(&user, row.UserID).Error; err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperrors.ErrUnauthorized
	}

	now := time.Now()
	if err := a.db.WithContext(ctx).Model(&model.Token{}).
		Where("id = ?", row.ID).UpdateColumn("last_used", now).Error; err != nil {
		a.log.Warn("token last_used update failed", "token_id", row.ID, "error", err)
	}

	return &namespace.Identity{User: &user}, nil
}

// extractToken pulls a token from the Authorization header. Git clients send
// basic auth with the token as password; API clients send Bearer.
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if _, password, ok := c.Request.BasicAuth(); ok {
		return password
	}
	return ""
}

// CurrentIdentity returns the caller's identity; never nil-dereferences, a
// nil result means anonymous.
func CurrentIdentity(c *gin.Context) *namespace.Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(*namespace.Identity); ok {
			return id
		}
	}
	return nil
}

// CurrentUsername returns the authenticated username, or "".
func CurrentUsername(c *gin.Context) string {
	return CurrentIdentity(c).Username()
}
