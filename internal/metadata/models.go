// Package metadata is the relational Metadata Store: the sole source of
// truth for quotas, the dedup index, and commit attribution. Models are
// plain GORM structs backed by gorm.io/gorm and gorm.io/driver/postgres.
package metadata

import "time"

// RepoType enumerates the three HuggingFace repository kinds.
type RepoType string

const (
	RepoTypeModel   RepoType = "model"
	RepoTypeDataset RepoType = "dataset"
	RepoTypeSpace   RepoType = "space"
)

// MembershipRole enumerates organization membership roles.
type MembershipRole string

const (
	RoleSuperAdmin MembershipRole = "super-admin"
	RoleAdmin      MembershipRole = "admin"
	RoleMember     MembershipRole = "member"
)

// User is a registered account. Never hard-deleted; IsActive models
// soft-deactivation instead.
type User struct {
	ID                uint64 `gorm:"primaryKey"`
	Username          string `gorm:"uniqueIndex;size:255;not null"`
	UsernameNormalized string `gorm:"uniqueIndex;size:255;not null"`
	Email             string `gorm:"size:255"`
	PasswordHash      string `gorm:"size:255"`
	EmailVerified     bool
	IsActive          bool `gorm:"default:true"`

	PrivateQuotaBytes *int64
	PrivateUsedBytes  int64 `gorm:"not null;default:0"`
	PublicQuotaBytes  *int64
	PublicUsedBytes   int64 `gorm:"not null;default:0"`

	CreatedAt time.Time
}

// Organization owns repositories collectively; members join via Membership.
type Organization struct {
	ID               uint64 `gorm:"primaryKey"`
	Name             string `gorm:"size:255;not null"`
	NameNormalized   string `gorm:"uniqueIndex;size:255;not null"`
	Description      string `gorm:"size:1024"`

	PrivateQuotaBytes *int64
	PrivateUsedBytes  int64 `gorm:"not null;default:0"`
	PublicQuotaBytes  *int64
	PublicUsedBytes   int64 `gorm:"not null;default:0"`

	CreatedAt time.Time
}

// Membership links a User to an Organization with a role.
type Membership struct {
	ID             uint64 `gorm:"primaryKey"`
	UserID         uint64 `gorm:"uniqueIndex:idx_membership_user_org;not null"`
	OrganizationID uint64 `gorm:"uniqueIndex:idx_membership_user_org;not null"`
	Role           MembershipRole `gorm:"size:32;not null"`
	CreatedAt      time.Time
}

// Repository is the unit of ownership for Files, Commits, and LFS history.
// Uniqueness is (repo_type, namespace_normalized, name_normalized); case is
// preserved separately for display.
type Repository struct {
	ID       uint64   `gorm:"primaryKey"`
	RepoType RepoType `gorm:"size:16;not null;uniqueIndex:idx_repo_identity"`

	Namespace           string `gorm:"size:255;not null"`
	NamespaceNormalized string `gorm:"size:255;not null;uniqueIndex:idx_repo_identity"`
	Name                string `gorm:"size:255;not null"`
	NameNormalized      string `gorm:"size:255;not null;uniqueIndex:idx_repo_identity"`

	Private bool `gorm:"not null;default:false"`
	Gated   bool `gorm:"not null;default:false"`

	OwnerUserID         *uint64
	OwnerOrganizationID *uint64

	Deleted bool `gorm:"not null;default:false;index"`

	CreatedAt time.Time
}

// FullID renders the "{namespace}/{name}" identifier used by external APIs.
func (r *Repository) FullID() string {
	return r.Namespace + "/" + r.Name
}

// File is both the dedup index and the accounting authority for the tip of
// a repository's primary branch.
type File struct {
	ID         uint64   `gorm:"primaryKey"`
	RepositoryID uint64 `gorm:"not null;uniqueIndex:idx_file_path"`
	RepoType   RepoType `gorm:"size:16;not null"`
	PathInRepo string   `gorm:"size:1024;not null;uniqueIndex:idx_file_path"`

	Size   int64  `gorm:"not null"`
	SHA256 string `gorm:"size:64;index;not null"`
	LFS    bool   `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Commit is an append-only record of a successful Version Store commit.
type Commit struct {
	ID           uint64 `gorm:"primaryKey"`
	CommitID     string `gorm:"size:64;not null;index"`
	RepositoryID uint64 `gorm:"not null;index"`
	RepoType     RepoType `gorm:"size:16;not null"`
	Branch       string   `gorm:"size:255;not null"`
	Username     string   `gorm:"size:255;not null"`
	Message      string   `gorm:"size:1024;not null"`
	Description  string   `gorm:"type:text"`
	CreatedAt    time.Time
}

// LFSObjectHistory is an append-only ledger of every LFS object ever
// referenced by a commit; the GC's sole input for retention decisions.
type LFSObjectHistory struct {
	ID           uint64 `gorm:"primaryKey"`
	RepositoryID uint64 `gorm:"not null;index:idx_lfs_history_path"`
	PathInRepo   string `gorm:"size:1024;not null;index:idx_lfs_history_path"`
	SHA256       string `gorm:"size:64;not null;index"`
	Size         int64  `gorm:"not null"`
	CommitID     string `gorm:"size:64;not null"`
	CreatedAt    time.Time `gorm:"index"`
}

// StagingUpload tracks an in-progress LFS upload until verify (or the
// repository's deletion) removes it.
type StagingUpload struct {
	ID           uint64 `gorm:"primaryKey"`
	RepositoryID uint64 `gorm:"not null;index"`
	Revision     string `gorm:"size:255;not null"`
	PathInRepo   string `gorm:"size:1024;not null"`
	SHA256       string `gorm:"size:64;not null;index"`
	Size         int64  `gorm:"not null"`
	UploadID     string `gorm:"size:255"`
	StorageKey   string `gorm:"size:1024;not null"`
	LFS          bool   `gorm:"not null;default:true"`
	OwnerUserID  uint64 `gorm:"not null"`
	CreatedAt    time.Time `gorm:"index"`
}

// SSHKey is a user's registered public key; cryptographic verification of
// the key itself happens outside this module.
type SSHKey struct {
	ID          uint64 `gorm:"primaryKey"`
	UserID      uint64 `gorm:"not null;index"`
	KeyType     string `gorm:"size:32;not null"`
	PublicKey   string `gorm:"type:text;not null"`
	Fingerprint string `gorm:"size:255;uniqueIndex;not null"`
	Title       string `gorm:"size:255"`
	LastUsed    *time.Time
}

// AllModels lists every model for AutoMigrate, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Organization{},
		&Membership{},
		&Repository{},
		&File{},
		&Commit{},
		&LFSObjectHistory{},
		&StagingUpload{},
		&SSHKey{},
	}
}
