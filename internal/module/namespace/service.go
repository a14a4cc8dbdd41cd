package namespace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
)

// Namespaces (usernames and organization names) share one pool: a name that
// collides with either, after normalization, is taken.

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxNameLen = 96

// Normalize folds a namespace or repo name for uniqueness comparison:
// lowercase, underscores collapse to hyphens.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// ValidateName checks display-name shape. Normalization is separate; this
// guards what users may register.
func ValidateName(name string) error {
	if name == "" {
		return apperrors.BadRequest("name is required")
	}
	if len(name) > maxNameLen {
		return apperrors.BadRequest(fmt.Sprintf("name exceeds %d characters", maxNameLen))
	}
	if !namePattern.MatchString(name) {
		return apperrors.BadRequest("name may only contain letters, digits, '.', '_' and '-', and must start with a letter or digit")
	}
	if strings.HasSuffix(name, ".git") {
		return apperrors.BadRequest("name may not end in .git")
	}
	return nil
}

// Owner is the resolved holder of a namespace.
type Owner struct {
	User *model.User
	Org  *model.Organization
}

// IsOrg reports whether the namespace belongs to an organization.
func (o *Owner) IsOrg() bool {
	return o.Org != nil
}

// Name returns the display name of the owner.
func (o *Owner) Name() string {
	if o.Org != nil {
		return o.Org.Name
	}
	if o.User != nil {
		return o.User.Username
	}
	return ""
}

// Service resolves namespaces and answers access questions.
type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewService creates a namespace service.
func NewService(db *gorm.DB, log *logger.Logger) *Service {
	return &Service{db: db, log: log}
}

// Resolve finds the user or organization holding a namespace.
func (s *Service) Resolve(ctx context.Context, name string) (*Owner, error) {
	norm := Normalize(name)

	var user model.User
	err := s.db.WithContext(ctx).Where("username_norm = ?", norm).First(&user).Error
	if err == nil {
		return &Owner{User: &user}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("resolve namespace: %w", err)
	}

	var org model.Organization
	err = s.db.WithContext(ctx).Where("name_norm = ?", norm).First(&org).Error
	if err == nil {
		return &Owner{Org: &org}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("resolve namespace: %w", err)
	}

	return nil, apperrors.ErrNotFound
}

// NameAvailable reports whether a namespace name is free across both pools.
func (s *Service) NameAvailable(ctx context.Context, name string) (bool, error) {
	_, err := s.Resolve(ctx, name)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return true, nil
	}
	return false, err
}

// MemberRole returns the caller's role in an org, or "" when not a member.
func (s *Service) MemberRole(ctx context.Context, userID, orgID int64) (model.OrgRole, error) {
	var membership model.Membership
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND org_id = ?", userID, orgID).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup membership: %w", err)
	}
	return membership.Role, nil
}
