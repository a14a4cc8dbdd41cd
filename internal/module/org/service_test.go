package org

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kohakuhub/server/internal/model"
)

func TestCanAssign(t *testing.T) {
	tests := []struct {
		name   string
		actor  model.OrgRole
		target model.OrgRole
		want   bool
	}{
		{"super_admin_grants_super_admin", model.OrgRoleSuperAdmin, model.OrgRoleSuperAdmin, true},
		{"super_admin_grants_admin", model.OrgRoleSuperAdmin, model.OrgRoleAdmin, true},
		{"super_admin_grants_member", model.OrgRoleSuperAdmin, model.OrgRoleMember, true},
		{"admin_cannot_touch_super_admin", model.OrgRoleAdmin, model.OrgRoleSuperAdmin, false},
		{"admin_grants_admin", model.OrgRoleAdmin, model.OrgRoleAdmin, true},
		{"admin_grants_member", model.OrgRoleAdmin, model.OrgRoleMember, true},
		{"member_grants_nothing", model.OrgRoleMember, model.OrgRoleMember, false},
		{"member_cannot_grant_admin", model.OrgRoleMember, model.OrgRoleAdmin, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canAssign(tt.actor, tt.target))
		})
	}
}
