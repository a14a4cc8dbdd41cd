package model

import (
	"time"
)

// ===== Repository Types =====

// RepoType represents the kind of artifact repository.
type RepoType string

const (
	RepoTypeModel   RepoType = "model"
	RepoTypeDataset RepoType = "dataset"
	RepoTypeSpace   RepoType = "space"
)

// IsValid validates the repo type.
func (t RepoType) IsValid() bool {
	return t == RepoTypeModel || t == RepoTypeDataset || t == RepoTypeSpace
}

// Plural returns the URL path segment for the type ("models", ...).
func (t RepoType) Plural() string {
	return string(t) + "s"
}

// ParseRepoType parses a singular or plural repo type string.
func ParseRepoType(s string) (RepoType, bool) {
	switch s {
	case "model", "models":
		return RepoTypeModel, true
	case "dataset", "datasets":
		return RepoTypeDataset, true
	case "space", "spaces":
		return RepoTypeSpace, true
	}
	return "", false
}

// ===== Users and Organizations =====

// User represents a registered account. Accounts are soft-deactivated, never
// hard-deleted.
type User struct {
	ID                int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username          string    `json:"username" gorm:"not null"`
	UsernameNorm      string    `json:"-" gorm:"column:username_norm;uniqueIndex;not null"`
	Email             string    `json:"email,omitempty"`
	PasswordHash      string    `json:"-"`
	EmailVerified     bool      `json:"email_verified" gorm:"default:false"`
	IsActive          bool      `json:"is_active" gorm:"default:true"`
	PrivateQuotaBytes *int64    `json:"private_quota_bytes,omitempty"`
	PrivateUsedBytes  int64     `json:"private_used_bytes" gorm:"default:0"`
	PublicQuotaBytes  *int64    `json:"public_quota_bytes,omitempty"`
	PublicUsedBytes   int64     `json:"public_used_bytes" gorm:"default:0"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (User) TableName() string {
	return "users"
}

// Organization owns repositories; users join via Membership.
type Organization struct {
	ID                int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name              string    `json:"name" gorm:"not null"`
	NameNorm          string    `json:"-" gorm:"column:name_norm;uniqueIndex;not null"`
	Description       string    `json:"description,omitempty"`
	PrivateQuotaBytes *int64    `json:"private_quota_bytes,omitempty"`
	PrivateUsedBytes  int64     `json:"private_used_bytes" gorm:"default:0"`
	PublicQuotaBytes  *int64    `json:"public_quota_bytes,omitempty"`
	PublicUsedBytes   int64     `json:"public_used_bytes" gorm:"default:0"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (Organization) TableName() string {
	return "organizations"
}

// OrgRole represents a member's role in an organization.
type OrgRole string

const (
	OrgRoleSuperAdmin OrgRole = "super-admin"
	OrgRoleAdmin      OrgRole = "admin"
	OrgRoleMember     OrgRole = "member"
)

// IsValid validates the role.
func (r OrgRole) IsValid() bool {
	return r == OrgRoleSuperAdmin || r == OrgRoleAdmin || r == OrgRoleMember
}

// CanDelete returns true if the role can delete org repositories.
func (r OrgRole) CanDelete() bool {
	return r == OrgRoleSuperAdmin || r == OrgRoleAdmin
}

// Membership links a user to an organization with a role. Every organization
// keeps at least one super-admin.
type Membership struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64     `json:"user_id" gorm:"not null;uniqueIndex:idx_membership_user_org"`
	OrgID     int64     `json:"org_id" gorm:"not null;uniqueIndex:idx_membership_user_org;index"`
	Role      OrgRole   `json:"role" gorm:"not null;default:member"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (Membership) TableName() string {
	return "memberships"
}

// ===== Repositories =====

// Repository is a versioned artifact repository. The normalized triple
// (repo_type, namespace_norm, name_norm) is the uniqueness key; the original
// case is preserved for display.
type Repository struct {
	ID            int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	RepoType      RepoType   `json:"repo_type" gorm:"not null;uniqueIndex:idx_repo_type_ns_name"`
	Namespace     string     `json:"namespace" gorm:"not null"`
	Name          string     `json:"name" gorm:"not null"`
	NamespaceNorm string     `json:"-" gorm:"column:namespace_norm;not null;uniqueIndex:idx_repo_type_ns_name;index"`
	NameNorm      string     `json:"-" gorm:"column:name_norm;not null;uniqueIndex:idx_repo_type_ns_name"`
	FullID        string     `json:"full_id" gorm:"column:full_id;not null;index"`
	Private       bool       `json:"private" gorm:"default:false"`
	Gated         bool       `json:"gated" gorm:"default:false"`
	OwnerUserID   *int64     `json:"owner_user_id,omitempty"`
	OwnerOrgID    *int64     `json:"owner_org_id,omitempty"`
	DeletedAt     *time.Time `json:"-" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (Repository) TableName() string {
	return "repositories"
}

// IsOrgOwned reports whether an organization owns the repository.
func (r *Repository) IsOrgOwned() bool {
	return r.OwnerOrgID != nil
}

// RepoRedirect preserves a repository's previous location after a move so old
// URLs keep resolving. A real repository at the same triple always wins.
type RepoRedirect struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RepoType      RepoType  `json:"repo_type" gorm:"not null;uniqueIndex:idx_redirect_type_ns_name"`
	NamespaceNorm string    `json:"-" gorm:"column:namespace_norm;not null;uniqueIndex:idx_redirect_type_ns_name"`
	NameNorm      string    `json:"-" gorm:"column:name_norm;not null;uniqueIndex:idx_redirect_type_ns_name"`
	RepoID        int64     `json:"repo_id" gorm:"not null;index"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (RepoRedirect) TableName() string {
	return "repo_redirects"
}

// ===== Files =====

// File tracks one path on the tip of the primary branch. The sha256 index is
// the dedup authority for preupload and commit idempotence; sizes feed the
// quota counters.
type File struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RepoFullID string    `json:"repo_full_id" gorm:"not null;uniqueIndex:idx_file_repo_path"`
	RepoType   RepoType  `json:"repo_type" gorm:"not null;uniqueIndex:idx_file_repo_path"`
	PathInRepo string    `json:"path_in_repo" gorm:"not null;uniqueIndex:idx_file_repo_path"`
	Size       int64     `json:"size" gorm:"not null"`
	SHA256     string    `json:"sha256" gorm:"column:sha256;index"`
	LFS        bool      `json:"lfs" gorm:"column:lfs;default:false"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (File) TableName() string {
	return "files"
}

// ===== Commits =====

// Commit records one version store commit, append-only. Rows are removed only
// when the parent repository is removed.
type Commit struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	CommitID    string    `json:"commit_id" gorm:"column:commit_id;not null;index"`
	RepoFullID  string    `json:"repo_full_id" gorm:"not null;index"`
	RepoType    RepoType  `json:"repo_type" gorm:"not null"`
	Branch      string    `json:"branch" gorm:"not null"`
	Username    string    `json:"username"`
	Message     string    `json:"message"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (Commit) TableName() string {
	return "commits"
}

// ===== LFS history =====

// LFSObjectHistory is an append-only ledger of every LFS object a commit has
// referenced. The garbage collector consults it to decide when an S3 blob is
// safe to delete.
type LFSObjectHistory struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RepoFullID string    `json:"repo_full_id" gorm:"not null;index:idx_lfs_hist_repo_path"`
	PathInRepo string    `json:"path_in_repo" gorm:"not null;index:idx_lfs_hist_repo_path"`
	SHA256     string    `json:"sha256" gorm:"column:sha256;not null;index"`
	Size       int64     `json:"size" gorm:"not null"`
	CommitID   string    `json:"commit_id" gorm:"column:commit_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (LFSObjectHistory) TableName() string {
	return "lfs_object_history"
}

// ===== Staging uploads =====

// StagingUpload is an ephemeral row for an in-progress LFS upload. Removed on
// successful verify or by the TTL sweeper.
type StagingUpload struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RepoFullID string    `json:"repo_full_id" gorm:"not null;index"`
	Revision   string    `json:"revision"`
	PathInRepo string    `json:"path_in_repo"`
	SHA256     string    `json:"sha256" gorm:"column:sha256;index"`
	Size       int64     `json:"size"`
	UploadID   string    `json:"upload_id"`
	StorageKey string    `json:"storage_key"`
	LFS        bool      `json:"lfs" gorm:"column:lfs;default:true"`
	UserID     int64     `json:"user_id" gorm:"index"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name.
func (StagingUpload) TableName() string {
	return "staging_uploads"
}

// ===== SSH keys =====

// SSHKey stores a user's public key. Fingerprint verification happens outside
// the core; the core only persists validated keys.
type SSHKey struct {
	ID          int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      int64      `json:"user_id" gorm:"not null;index"`
	KeyType     string     `json:"key_type"`
	PublicKey   string     `json:"public_key" gorm:"not null"`
	Fingerprint string     `json:"fingerprint" gorm:"uniqueIndex;not null"`
	Title       string     `json:"title"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (SSHKey) TableName() string {
	return "ssh_keys"
}

// ===== API tokens =====

// Token is an API token reference. Issuance happens outside the core; the
// middleware only resolves the hash to a user.
type Token struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64      `json:"user_id" gorm:"not null;index"`
	TokenHash string     `json:"-" gorm:"uniqueIndex;not null"`
	Name      string     `json:"name"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (Token) TableName() string {
	return "tokens"
}
