// Package permission resolves repository identifiers to rows and computes
// effective rights for the calling identity, in the same role-resolution
// shape as a HasRole/HasAnyRole session check, adapted from session-auth
// roles to repo-ownership rights.
package permission

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
)

// Identity is the calling principal: either anonymous, a specific user, or
// a user acting within one or more organizations (memberships resolved by
// the caller before invoking EffectiveRights).
type Identity struct {
	UserID        uint64
	Anonymous     bool
	OrgRoles      map[uint64]metadata.MembershipRole // organization ID -> role
}

// Rights is the four-bool effective permission set for a repository.
type Rights struct {
	Read, Write, Delete, Admin bool
}

// Resolve normalizes and looks up (repo_type, namespace, name), returning
// huberr.NotFound (mapped to HFErrorCode RepoNotFound) when absent.
func Resolve(ctx context.Context, store *metadata.Store, repoType metadata.RepoType, namespace, name string) (*metadata.Repository, error) {
	repo, err := store.FindRepository(ctx, repoType, namespace, name)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, huberr.NotFound("repository not found")
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// EffectiveRights computes read/write/delete/admin for identity against
// repo. It never distinguishes "forbidden" from "not found" here — that
// collapse happens in Guard, the only path callers should use for
// privacy-sensitive access checks.
func EffectiveRights(repo *metadata.Repository, identity Identity) Rights {
	if identity.Anonymous {
		return Rights{Read: !repo.Private && !repo.Gated}
	}

	isOwnerUser := repo.OwnerUserID != nil && *repo.OwnerUserID == identity.UserID
	var role metadata.MembershipRole
	var isMember bool
	if repo.OwnerOrganizationID != nil {
		role, isMember = identity.OrgRoles[*repo.OwnerOrganizationID]
	}

	read := !repo.Private || isOwnerUser || isMember
	write := isOwnerUser || (isMember && (role == metadata.RoleMember || role == metadata.RoleAdmin || role == metadata.RoleSuperAdmin))
	del := isOwnerUser || (isMember && (role == metadata.RoleAdmin || role == metadata.RoleSuperAdmin))

	if repo.Gated && !isOwnerUser && !isMember {
		read = false
	}

	return Rights{Read: read, Write: write, Delete: del, Admin: del}
}

// Guard resolves the repository and checks the requested right in one
// call, so there is no code path through which an anonymous caller can
// observe Forbidden on a private repo — a failed read of a private repo
// always comes back as the same huberr.NotFound an absent repo would
// produce. A failed read of a public gated repo returns huberr.GatedRepo.
func Guard(ctx context.Context, store *metadata.Store, repoType metadata.RepoType, namespace, name string, identity Identity, need func(Rights) bool) (*metadata.Repository, error) {
	repo, err := Resolve(ctx, store, repoType, namespace, name)
	if err != nil {
		return nil, err
	}
	rights := EffectiveRights(repo, identity)
	if need(rights) {
		return repo, nil
	}
	if repo.Gated && !repo.Private && !rights.Read {
		return nil, huberr.GatedRepo("this repository requires an access grant")
	}
	if identity.Anonymous || !rights.Read {
		return nil, huberr.NotFound("repository not found")
	}
	if repo.Gated {
		return nil, huberr.GatedRepo("this repository requires an access grant")
	}
	return nil, &huberr.Error{Kind: huberr.KindPermissionDenied, Code: huberr.CodeBadRequest, Message: "insufficient permissions"}
}

// LoadOrgRoles fetches every Membership row for a user, for building an
// Identity before calling EffectiveRights/Guard.
func LoadOrgRoles(ctx context.Context, db *gorm.DB, userID uint64) (map[uint64]metadata.MembershipRole, error) {
	var memberships []metadata.Membership
	if err := db.WithContext(ctx).Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, err
	}
	roles := make(map[uint64]metadata.MembershipRole, len(memberships))
	for _, m := range memberships {
		roles[m.OrganizationID] = m.Role
	}
	return roles, nil
}
