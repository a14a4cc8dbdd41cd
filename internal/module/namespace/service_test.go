package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kohakuhub/server/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice", "alice"},
		{"my_repo", "my-repo"},
		{"My_Mixed_Case", "my-mixed-case"},
		{"already-normal", "already-normal"},
		{"A_B_c", "a-b-c"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestNormalize_CollisionPairs(t *testing.T) {
	// Names that must collide after normalization.
	assert.Equal(t, Normalize("my_model"), Normalize("My-Model"))
	assert.Equal(t, Normalize("BERT_base"), Normalize("bert-base"))
}

func TestValidateName(t *testing.T) {
	t.Run("accepts_valid_names", func(t *testing.T) {
		for _, name := range []string{"alice", "Bert-Base", "v2.0", "a", "data_set", "0day"} {
			assert.NoError(t, ValidateName(name), "name %q", name)
		}
	})

	t.Run("rejects_invalid_names", func(t *testing.T) {
		for _, name := range []string{"", "-leading", ".hidden", "has space", "emoji🙂", "repo.git"} {
			assert.Error(t, ValidateName(name), "name %q", name)
		}
	})

	t.Run("rejects_overlong_name", func(t *testing.T) {
		long := make([]byte, maxNameLen+1)
		for i := range long {
			long[i] = 'a'
		}
		assert.Error(t, ValidateName(string(long)))
	})
}

func TestRightsFrom(t *testing.T) {
	tests := []struct {
		name       string
		ownerMatch bool
		role       model.OrgRole
		private    bool
		gated      bool
		want       Rights
	}{
		{"stranger_public", false, "", false, false, Rights{Read: true}},
		{"stranger_private", false, "", true, false, Rights{}},
		{"stranger_gated", false, "", false, true, Rights{}},
		{"owner_private", true, "", true, false, Rights{Read: true, Write: true, Delete: true}},
		{"org_member_public", false, model.OrgRoleMember, false, false, Rights{Read: true, Write: true}},
		{"org_member_private", false, model.OrgRoleMember, true, false, Rights{Read: true, Write: true}},
		{"org_admin_private", false, model.OrgRoleAdmin, true, false, Rights{Read: true, Write: true, Delete: true}},
		{"org_super_admin_gated", false, model.OrgRoleSuperAdmin, false, true, Rights{Read: true, Write: true, Delete: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rightsFrom(tt.ownerMatch, tt.role, tt.private, tt.gated)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveRights_AdminBypass(t *testing.T) {
	s := NewService(nil, nil)
	repo := &model.Repository{Private: true, Gated: true}

	rights, err := s.EffectiveRights(t.Context(), &Identity{IsAdmin: true}, repo)
	assert.NoError(t, err)
	assert.Equal(t, Rights{Read: true, Write: true, Delete: true}, rights)
}

func TestEffectiveRights_AnonymousOnUserRepo(t *testing.T) {
	s := NewService(nil, nil)
	ownerID := int64(7)

	t.Run("public_readable", func(t *testing.T) {
		repo := &model.Repository{OwnerUserID: &ownerID}
		rights, err := s.EffectiveRights(t.Context(), nil, repo)
		assert.NoError(t, err)
		assert.Equal(t, Rights{Read: true}, rights)
	})

	t.Run("private_invisible", func(t *testing.T) {
		repo := &model.Repository{OwnerUserID: &ownerID, Private: true}
		rights, err := s.EffectiveRights(t.Context(), nil, repo)
		assert.NoError(t, err)
		assert.False(t, rights.Read)
	})
}

func TestEffectiveRights_UserOwnedRepo(t *testing.T) {
	s := NewService(nil, nil)
	ownerID := int64(7)
	otherID := int64(8)
	repo := &model.Repository{OwnerUserID: &ownerID, Private: true}

	owner := &Identity{User: &model.User{ID: ownerID, Username: "alice"}}
	stranger := &Identity{User: &model.User{ID: otherID, Username: "mallory"}}

	rights, err := s.EffectiveRights(t.Context(), owner, repo)
	assert.NoError(t, err)
	assert.Equal(t, Rights{Read: true, Write: true, Delete: true}, rights)

	rights, err = s.EffectiveRights(t.Context(), stranger, repo)
	assert.NoError(t, err)
	assert.Equal(t, Rights{}, rights)
}

func TestIdentity_Anonymous(t *testing.T) {
	var nilID *Identity
	assert.True(t, nilID.Anonymous())
	assert.True(t, (&Identity{}).Anonymous())
	assert.False(t, (&Identity{User: &model.User{Username: "alice"}}).Anonymous())
	assert.Equal(t, "alice", (&Identity{User: &model.User{Username: "alice"}}).Username())
	assert.Equal(t, "", nilID.Username())
}
