package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps a *gorm.DB with the same connection-pool tuning as the
// PGInfo/PGMigrations setup pattern, plus the query methods the rest of the
// module needs.
type Store struct {
	DB *gorm.DB
}

// Open connects to Postgres and configures the connection pool, mirroring
// db.PGInfo's MaxIdleConns/MaxOpenConns/ConnMaxLifetime settings.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: connecting to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("metadata: getting sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return &Store{DB: db}, nil
}

// Migrate runs AutoMigrate over every model, per db.PGMigrations' pattern.
func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(AllModels()...)
}

// NormalizeName lowercases and maps '_' to '-', the normalization rule used
// for namespace/name uniqueness everywhere a namespace or name is compared.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

var ErrNotFound = errors.New("metadata: not found")

// FindUserByUsername looks up a user by normalized username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.DB.WithContext(ctx).Where("username_normalized = ?", NormalizeName(username)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &u, err
}

// FindUserByID looks up a user by primary key, used to resolve an
// identity's username when only its numeric ID is known (e.g. from a
// verified bearer token's subject-to-ID mapping cached in permission.Identity).
func (s *Store) FindUserByID(ctx context.Context, id uint64) (*User, error) {
	var u User
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &u, err
}

// FindOrganizationByName looks up an organization by normalized name.
func (s *Store) FindOrganizationByName(ctx context.Context, name string) (*Organization, error) {
	var o Organization
	err := s.DB.WithContext(ctx).Where("name_normalized = ?", NormalizeName(name)).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &o, err
}

// FindRepository resolves (repo_type, namespace, name) to a Repository row.
func (s *Store) FindRepository(ctx context.Context, repoType RepoType, namespace, name string) (*Repository, error) {
	var r Repository
	err := s.DB.WithContext(ctx).Where(
		"repo_type = ? AND namespace_normalized = ? AND name_normalized = ? AND deleted = false",
		repoType, NormalizeName(namespace), NormalizeName(name),
	).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &r, err
}

// NameConflicts reports whether the normalized (namespace, name) pair
// collides with any existing User, Organization, or Repository of the same
// repo_type, checked before a repository is created.
func (s *Store) NameConflicts(ctx context.Context, repoType RepoType, namespace, name string) (bool, error) {
	ns, nm := NormalizeName(namespace), NormalizeName(name)
	var count int64
	if err := s.DB.WithContext(ctx).Model(&Repository{}).
		Where("repo_type = ? AND namespace_normalized = ? AND name_normalized = ?", repoType, ns, nm).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if ns == nm {
		if _, err := s.FindUserByUsername(ctx, ns); err == nil {
			return true, nil
		} else if !errors.Is(err, ErrNotFound) {
			return false, err
		}
		if _, err := s.FindOrganizationByName(ctx, ns); err == nil {
			return true, nil
		} else if !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}

// FindFile looks up the current File row for (repository, path).
func (s *Store) FindFile(ctx context.Context, repositoryID uint64, path string) (*File, error) {
	var f File
	err := s.DB.WithContext(ctx).Where("repository_id = ? AND path_in_repo = ?", repositoryID, path).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &f, err
}

// FindFileBySHA256 looks up any File row anywhere with a matching digest,
// used for the cross-repository LFS dedup check.
func (s *Store) FindFileBySHA256(ctx context.Context, sha256 string) (*File, error) {
	var f File
	err := s.DB.WithContext(ctx).Where("sha256 = ?", sha256).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &f, err
}

// UpsertFile writes or updates the File row reflecting the tip of the
// default branch after a commit, inside an existing transaction.
func UpsertFile(tx *gorm.DB, f *File) error {
	var existing File
	err := tx.Where("repository_id = ? AND path_in_repo = ?", f.RepositoryID, f.PathInRepo).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(f).Error
	}
	if err != nil {
		return err
	}
	existing.Size = f.Size
	existing.SHA256 = f.SHA256
	existing.LFS = f.LFS
	return tx.Save(&existing).Error
}

// DeleteFile removes the File row for (repository, path); missing is not
// an error, matching the commit pipeline's idempotent delete semantics.
func DeleteFile(tx *gorm.DB, repositoryID uint64, path string) error {
	return tx.Where("repository_id = ? AND path_in_repo = ?", repositoryID, path).Delete(&File{}).Error
}

// DeleteFilesByPrefix removes every File row whose path starts with prefix.
func DeleteFilesByPrefix(tx *gorm.DB, repositoryID uint64, prefix string) error {
	return tx.Where("repository_id = ? AND path_in_repo LIKE ?", repositoryID, prefix+"%").Delete(&File{}).Error
}

// SumFileSizes sums the sizes of every File row belonging to the given
// repository IDs; used by quota.Recompute.
func (s *Store) SumFileSizes(ctx context.Context, repoIDs []uint64) (int64, error) {
	if len(repoIDs) == 0 {
		return 0, nil
	}
	var total int64
	err := s.DB.WithContext(ctx).Model(&File{}).
		Where("repository_id IN ?", repoIDs).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}

// RepositoryIDsByOwner returns every non-deleted repository ID owned by the
// given user or organization, split by privacy flag.
func (s *Store) RepositoryIDsByOwner(ctx context.Context, ownerUserID, ownerOrgID *uint64, private bool) ([]uint64, error) {
	q := s.DB.WithContext(ctx).Model(&Repository{}).Where("deleted = false AND private = ?", private)
	if ownerUserID != nil {
		q = q.Where("owner_user_id = ?", *ownerUserID)
	} else if ownerOrgID != nil {
		q = q.Where("owner_organization_id = ?", *ownerOrgID)
	}
	var ids []uint64
	err := q.Pluck("id", &ids).Error
	return ids, err
}

// LFSHistoryForPath returns every LFSObjectHistory row for
// (repositoryID, path), newest first, for the GC retention scan.
func (s *Store) LFSHistoryForPath(ctx context.Context, repositoryID uint64, path string) ([]LFSObjectHistory, error) {
	var rows []LFSObjectHistory
	err := s.DB.WithContext(ctx).
		Where("repository_id = ? AND path_in_repo = ?", repositoryID, path).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// SHA256ReferencedOutsidePath reports whether sha256 is referenced by any
// File row, or by any LFSObjectHistory row outside of (repositoryID, path),
// so a candidate's own not-yet-trimmed history row never counts as a
// reference against itself.
func (s *Store) SHA256ReferencedOutsidePath(ctx context.Context, sha256 string, repositoryID uint64, path string) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&File{}).Where("sha256 = ?", sha256).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := s.DB.WithContext(ctx).Model(&LFSObjectHistory{}).
		Where("sha256 = ? AND NOT (repository_id = ? AND path_in_repo = ?)", sha256, repositoryID, path).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// TrimLFSHistory deletes LFSObjectHistory rows for (repositoryID, path)
// whose SHA-256 is in candidateSHAs. It does not check whether those SHAs
// are still referenced elsewhere.
func (s *Store) TrimLFSHistory(ctx context.Context, repositoryID uint64, path string, candidateSHAs []string) error {
	if len(candidateSHAs) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).
		Where("repository_id = ? AND path_in_repo = ? AND sha256 IN ?", repositoryID, path, candidateSHAs).
		Delete(&LFSObjectHistory{}).Error
}

// AllSHA256ForRepo returns every distinct SHA-256 ever referenced by
// repositoryID's LFSObjectHistory, for full-repo cleanup.
func (s *Store) AllSHA256ForRepo(ctx context.Context, repositoryID uint64) ([]string, error) {
	var shas []string
	err := s.DB.WithContext(ctx).Model(&LFSObjectHistory{}).
		Where("repository_id = ?", repositoryID).
		Distinct().Pluck("sha256", &shas).Error
	return shas, err
}

// SHA256ReferencedOutsideRepo reports whether sha256 is referenced by any
// File or LFSObjectHistory row belonging to a repository other than
// excludeRepositoryID.
func (s *Store) SHA256ReferencedOutsideRepo(ctx context.Context, sha256 string, excludeRepositoryID uint64) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&File{}).
		Where("sha256 = ? AND repository_id <> ?", sha256, excludeRepositoryID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := s.DB.WithContext(ctx).Model(&LFSObjectHistory{}).
		Where("sha256 = ? AND repository_id <> ?", sha256, excludeRepositoryID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteLFSHistoryForRepo removes every LFSObjectHistory row for
// repositoryID, the last step of full-repo cleanup.
func (s *Store) DeleteLFSHistoryForRepo(ctx context.Context, repositoryID uint64) error {
	return s.DB.WithContext(ctx).Where("repository_id = ?", repositoryID).Delete(&LFSObjectHistory{}).Error
}

// ListCommitsForBranch returns every recorded Commit for (repositoryID,
// branch), oldest first. The Git Bridge walks this ordering to build a
// linear parent chain: this table, not the Version Store, is the
// authoritative source of commit authorship and ordering for Git object
// synthesis, since it already denormalizes username/message/timestamp.
func (s *Store) ListCommitsForBranch(ctx context.Context, repositoryID uint64, branch string) ([]Commit, error) {
	var rows []Commit
	err := s.DB.WithContext(ctx).
		Where("repository_id = ? AND branch = ?", repositoryID, branch).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListBranches returns every distinct branch name that has at least one
// recorded commit for repositoryID, used by the Git Bridge's ref
// advertisement (the Version Store Client exposes no branch-listing call).
func (s *Store) ListBranches(ctx context.Context, repositoryID uint64) ([]string, error) {
	var branches []string
	err := s.DB.WithContext(ctx).Model(&Commit{}).
		Where("repository_id = ?", repositoryID).
		Distinct().Pluck("branch", &branches).Error
	return branches, err
}

// CreateStagingUpload records an in-progress LFS upload, owned by the
// uploading user until it is verified or swept as expired.
func (s *Store) CreateStagingUpload(ctx context.Context, row *StagingUpload) error {
	return s.DB.WithContext(ctx).Create(row).Error
}

// DeleteStagingUpload removes the caller's staging row for sha256 once
// verify confirms the blob landed, scoped to ownerUserID so only the
// uploading user's row is ever touched.
func (s *Store) DeleteStagingUpload(ctx context.Context, ownerUserID uint64, sha256 string) error {
	return s.DB.WithContext(ctx).
		Where("owner_user_id = ? AND sha256 = ?", ownerUserID, sha256).
		Delete(&StagingUpload{}).Error
}

// SweepExpiredStagingUploads deletes StagingUpload rows older than ttl.
// Nothing in this module calls it; no background sweeper runs on the
// staging_upload_ttl_seconds config key.
func (s *Store) SweepExpiredStagingUploads(ctx context.Context, ttl time.Duration) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("created_at < ?", time.Now().Add(-ttl)).
		Delete(&StagingUpload{})
	return res.RowsAffected, res.Error
}

// LFSHistoryForCommitPath looks up the LFSObjectHistory row recorded for
// (repositoryID, path) at the exact commit commitID, used by the Git
// Bridge to decide per-historical-commit whether a path was LFS-tracked.
func (s *Store) LFSHistoryForCommitPath(ctx context.Context, repositoryID uint64, path, commitID string) (*LFSObjectHistory, error) {
	var row LFSObjectHistory
	err := s.DB.WithContext(ctx).
		Where("repository_id = ? AND path_in_repo = ? AND commit_id = ?", repositoryID, path, commitID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &row, err
}
