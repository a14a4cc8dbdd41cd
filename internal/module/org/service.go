package org

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kohakuhub/server/internal/model"
	"github.com/kohakuhub/server/internal/module/namespace"
	apperrors "github.com/kohakuhub/server/internal/shared/errors"
	"github.com/kohakuhub/server/internal/shared/logger"
)

// Service manages organizations and their memberships.
type Service struct {
	db  *gorm.DB
	ns  *namespace.Service
	log *logger.Logger
}

// NewService creates the organization service.
func NewService(db *gorm.DB, ns *namespace.Service, log *logger.Logger) *Service {
	return &Service{db: db, ns: ns, log: log}
}

// Create registers an organization and makes the creator its super-admin.
func (s *Service) Create(ctx context.Context, creator *model.User, name, description string) (*model.Organization, error) {
	if err := namespace.ValidateName(name); err != nil {
		return nil, err
	}

	available, err := s.ns.NameAvailable(ctx, name)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, apperrors.Conflict("namespace " + name + " is taken")
	}

	org := &model.Organization{
		Name:        name,
		NameNorm:    namespace.Normalize(name),
		Description: description,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		return tx.Create(&model.Membership{
			UserID: creator.ID,
			OrgID:  org.ID,
			Role:   model.OrgRoleSuperAdmin,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}
	return org, nil
}

// Get loads an organization by name.
func (s *Service) Get(ctx context.Context, name string) (*model.Organization, error) {
	var org model.Organization
	err := s.db.WithContext(ctx).
		Where("name_norm = ?", namespace.Normalize(name)).
		First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewAppError(apperrors.CodeRepoNotFound,
				"Organization "+name+" not found", 404, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("load organization: %w", err)
	}
	return &org, nil
}

// UpdateDescription changes the org description. Admin role required.
func (s *Service) UpdateDescription(ctx context.Context, org *model.Organization, description string) error {
	err := s.db.WithContext(ctx).Model(&model.Organization{}).
		Where("id = ?", org.ID).
		UpdateColumn("description", description).Error
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

// Member is one membership row joined with its user.
type Member struct {
	Username string        `json:"user"`
	Role     model.OrgRole `json:"role"`
}

// Members lists an organization's memberships.
func (s *Service) Members(ctx context.Context, org *model.Organization) ([]Member, error) {
	var members []Member
	err := s.db.WithContext(ctx).
		Model(&model.Membership{}).
		Select("users.username AS username, memberships.role AS role").
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.org_id = ?", org.ID).
		Order("users.username").
		Scan(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// canAssign decides whether an actor role may grant or revoke a given role.
// Only super-admins touch super-admin seats; admins manage the rest.
func canAssign(actor, target model.OrgRole) bool {
	if target == model.OrgRoleSuperAdmin {
		return actor == model.OrgRoleSuperAdmin
	}
	return actor.CanDelete()
}

// actorRole resolves the acting user's role, treating instance admins as
// super-admins.
func (s *Service) actorRole(ctx context.Context, identity *namespace.Identity, org *model.Organization) (model.OrgRole, error) {
	if identity.Admin() {
		return model.OrgRoleSuperAdmin, nil
	}
	if identity.Anonymous() {
		return "", apperrors.Unauthorized("")
	}
	role, err := s.ns.MemberRole(ctx, identity.User.ID, org.ID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", apperrors.Forbidden("not a member of " + org.Name)
	}
	return role, nil
}

// AddMember adds a user to the organization.
func (s *Service) AddMember(ctx context.Context, identity *namespace.Identity, org *model.Organization, username string, role model.OrgRole) error {
	actor, err := s.actorRole(ctx, identity, org)
	if err != nil {
		return err
	}
	if !role.IsValid() {
		return apperrors.BadRequest("unknown role " + string(role))
	}
	if !canAssign(actor, role) {
		return apperrors.Forbidden("insufficient role to grant " + string(role))
	}

	var user model.User
	err = s.db.WithContext(ctx).
		Where("username_norm = ? AND is_active = true", namespace.Normalize(username)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.BadRequest("user " + username + " not found")
		}
		return fmt.Errorf("load user: %w", err)
	}

	err = s.db.WithContext(ctx).Create(&model.Membership{
		UserID: user.ID,
		OrgID:  org.ID,
		Role:   role,
	}).Error
	if err != nil {
		return apperrors.Conflict(username + " is already a member")
	}
	return nil
}

// UpdateMember changes a member's role. The last super-admin cannot be
// demoted.
func (s *Service) UpdateMember(ctx context.Context, identity *namespace.Identity, org *model.Organization, username string, role model.OrgRole) error {
	actor, err := s.actorRole(ctx, identity, org)
	if err != nil {
		return err
	}
	if !role.IsValid() {
		return apperrors.BadRequest("unknown role " + string(role))
	}

	membership, user, err := s.membership(ctx, org, username)
	if err != nil {
		return err
	}
	if !canAssign(actor, membership.Role) || !canAssign(actor, role) {
		return apperrors.Forbidden("insufficient role to change " + username)
	}
	if membership.Role == role {
		return nil
	}

	if membership.Role == model.OrgRoleSuperAdmin {
		if err := s.ensureNotLastSuperAdmin(ctx, org, user.ID); err != nil {
			return err
		}
	}

	err = s.db.WithContext(ctx).Model(&model.Membership{}).
		Where("id = ?", membership.ID).
		UpdateColumn("role", role).Error
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	return nil
}

// RemoveMember removes a user from the organization. Members may remove
// themselves; the last super-admin cannot leave.
func (s *Service) RemoveMember(ctx context.Context, identity *namespace.Identity, org *model.Organization, username string) error {
	membership, user, err := s.membership(ctx, org, username)
	if err != nil {
		return err
	}

	self := !identity.Anonymous() && identity.User != nil && identity.User.ID == user.ID
	if !self {
		actor, err := s.actorRole(ctx, identity, org)
		if err != nil {
			return err
		}
		if !canAssign(actor, membership.Role) {
			return apperrors.Forbidden("insufficient role to remove " + username)
		}
	}

	if membership.Role == model.OrgRoleSuperAdmin {
		if err := s.ensureNotLastSuperAdmin(ctx, org, user.ID); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Delete(&model.Membership{}, membership.ID).Error; err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}

func (s *Service) membership(ctx context.Context, org *model.Organization, username string) (*model.Membership, *model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where("username_norm = ?", namespace.Normalize(username)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.BadRequest("user " + username + " not found")
		}
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	var membership model.Membership
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND org_id = ?", user.ID, org.ID).
		First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.BadRequest(username + " is not a member")
		}
		return nil, nil, fmt.Errorf("load membership: %w", err)
	}
	return &membership, &user, nil
}

// ensureNotLastSuperAdmin fails when userID holds the organization's only
// super-admin seat.
func (s *Service) ensureNotLastSuperAdmin(ctx context.Context, org *model.Organization, userID int64) error {
	var others int64
	err := s.db.WithContext(ctx).Model(&model.Membership{}).
		Where("org_id = ? AND role = ? AND user_id <> ?", org.ID, model.OrgRoleSuperAdmin, userID).
		Count(&others).Error
	if err != nil {
		return fmt.Errorf("count super-admins: %w", err)
	}
	if others == 0 {
		return apperrors.BadRequest("organization must keep at least one super-admin")
	}
	return nil
}
