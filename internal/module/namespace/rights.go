package namespace

import (
	"context"

	"github.com/kohakuhub/server/internal/model"
)

// Identity is the authenticated caller. A nil User means anonymous. IsAdmin
// is set by the admin secret token, not by any org role.
type Identity struct {
	User    *model.User
	IsAdmin bool
}

// Anonymous reports whether no account is attached.
func (id *Identity) Anonymous() bool {
	return id == nil || id.User == nil
}

// Admin reports whether the admin secret authenticated this caller.
func (id *Identity) Admin() bool {
	return id != nil && id.IsAdmin
}

// Username returns the caller's display name, or "" for anonymous.
func (id *Identity) Username() string {
	if id.Anonymous() {
		return ""
	}
	return id.User.Username
}

// Rights are the caller's effective permissions on one repository.
type Rights struct {
	Read   bool
	Write  bool
	Delete bool
}

// EffectiveRights computes what the caller may do with a repository.
//
// Private and gated repositories hide their content from outsiders; for
// anonymous callers the handlers collapse a read denial into not-found so the
// repository's existence leaks nothing.
func (s *Service) EffectiveRights(ctx context.Context, id *Identity, repo *model.Repository) (Rights, error) {
	if id != nil && id.IsAdmin {
		return Rights{Read: true, Write: true, Delete: true}, nil
	}

	role := model.OrgRole("")
	ownerMatch := false

	if !id.Anonymous() {
		if repo.OwnerUserID != nil && *repo.OwnerUserID == id.User.ID {
			ownerMatch = true
		}
		if repo.OwnerOrgID != nil {
			var err error
			role, err = s.MemberRole(ctx, id.User.ID, *repo.OwnerOrgID)
			if err != nil {
				return Rights{}, err
			}
		}
	}

	return rightsFrom(ownerMatch, role, repo.Private, repo.Gated), nil
}

// rightsFrom derives permissions from the caller's relationship to the repo.
// An org role of "" means the caller is not a member.
func rightsFrom(ownerMatch bool, role model.OrgRole, private, gated bool) Rights {
	member := role != ""
	insider := ownerMatch || member

	r := Rights{}
	switch {
	case insider:
		r.Read = true
	case private || gated:
		r.Read = false
	default:
		r.Read = true
	}

	if ownerMatch {
		r.Write = true
		r.Delete = true
	}
	if member {
		r.Write = true
		r.Delete = r.Delete || role.CanDelete()
	}

	return r
}
