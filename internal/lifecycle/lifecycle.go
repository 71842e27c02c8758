// Package lifecycle orchestrates repository create/delete/move/squash
// across the Metadata Store, Version Store, Storage Gateway, and Quota
// Engine. Follows the same multi-system provisioning shape as a combined
// DB-plus-object-storage provisioner: create the DB row, then provision the
// external resource, clean up best-effort on partial failure.
package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"code.gitea.io/sdk/gitea"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/commit"
	"github.com/kohakuhub/kohakuhub/internal/gc"
	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/permission"
	"github.com/kohakuhub/kohakuhub/internal/quota"
	"github.com/kohakuhub/kohakuhub/internal/storage"
	"github.com/kohakuhub/kohakuhub/internal/versionstore"
)

// Service wires the four collaborators together for the lifecycle
// orchestrations. GiteaMirrorURL is optional; when set, Create registers a
// best-effort read-only mirror pointer and never fails repository creation
// if the call errors.
type Service struct {
	Store        *metadata.Store
	VersionStore versionstore.Store
	Storage      *storage.Gateway
	Commit       *commit.Pipeline
	GC           *gc.Queue
	BaseURL      string

	GiteaMirrorURL   string
	GiteaMirrorToken string

	Log *logrus.Entry
}

func (s *Service) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// CreateRequest describes a repository to create.
type CreateRequest struct {
	RepoType metadata.RepoType
	Namespace, Name string
	Private  bool
	Gated    bool
	OwnerUserID         *uint64
	OwnerOrganizationID *uint64
	Identity permission.Identity
	Username string
}

// CreateResult is the successful outcome of Create.
type CreateResult struct {
	Repo *metadata.Repository
	URL  string
}

// Create runs the repository creation orchestration: name-conflict
// check, write-rights check, Version Store repo creation, DB row insert,
// seed commit (.gitattributes), and the quota delta the seed content
// applies.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	conflict, err := s.Store.NameConflicts(ctx, req.RepoType, req.Namespace, req.Name)
	if err != nil {
		return nil, huberr.Internal("checking name conflict", err)
	}
	if conflict {
		return nil, huberr.RepoExists(fmt.Sprintf("%s/%s already exists or collides with a user/organization name", req.Namespace, req.Name))
	}

	owner := &metadata.Repository{OwnerUserID: req.OwnerUserID, OwnerOrganizationID: req.OwnerOrganizationID}
	if !permission.EffectiveRights(owner, req.Identity).Write {
		return nil, &huberr.Error{Kind: huberr.KindPermissionDenied, Code: huberr.CodeBadRequest, Message: "no write rights in this namespace"}
	}

	lakefsRepo := lakefsRepoName(req.RepoType, req.Namespace, req.Name)
	storageURI := fmt.Sprintf("s3://%s/%s", s.Storage.Bucket(), storage.RepoPrefix(string(req.RepoType), req.Namespace, req.Name))

	if err := s.VersionStore.CreateRepo(ctx, lakefsRepo, storageURI, "main"); err != nil {
		return nil, huberr.Internal("version store repository creation failed", err)
	}

	repo := &metadata.Repository{
		RepoType:            req.RepoType,
		Namespace:           req.Namespace,
		NamespaceNormalized: metadata.NormalizeName(req.Namespace),
		Name:                req.Name,
		NameNormalized:      metadata.NormalizeName(req.Name),
		Private:             req.Private,
		Gated:               req.Gated,
		OwnerUserID:         req.OwnerUserID,
		OwnerOrganizationID: req.OwnerOrganizationID,
	}
	if err := s.Store.DB.WithContext(ctx).Create(repo).Error; err != nil {
		_ = s.VersionStore.DeleteRepo(ctx, lakefsRepo)
		return nil, huberr.Internal("recording repository metadata failed", err)
	}

	if err := s.seed(ctx, repo, req.Identity, req.Username); err != nil {
		s.log().WithError(err).WithField("repo", repo.FullID()).Warn("lifecycle: seed commit failed, repository created empty")
	}

	s.maybeMirror(ctx, repo)

	return &CreateResult{
		Repo: repo,
		URL:  fmt.Sprintf("%s/%ss/%s", s.BaseURL, req.RepoType, repo.FullID()),
	}, nil
}

// seed writes the default .gitattributes content via the commit pipeline,
// using the identity of the caller who created the repository — it
// already has write rights by construction, so no separate system
// identity is needed here.
func (s *Service) seed(ctx context.Context, repo *metadata.Repository, identity permission.Identity, username string) error {
	if s.Commit == nil {
		return nil
	}
	body := ndjsonSeedBody()
	_, err := s.Commit.Run(ctx, commit.Request{
		RepoType: repo.RepoType,
		Namespace: repo.Namespace,
		Name:      repo.Name,
		Branch:    "main",
		Body:      body,
		Identity:  identity,
		Username:  username,
	})
	return err
}

func (s *Service) maybeMirror(ctx context.Context, repo *metadata.Repository) {
	if s.GiteaMirrorURL == "" {
		return
	}
	client, err := gitea.NewClient(s.GiteaMirrorURL, gitea.SetToken(s.GiteaMirrorToken), gitea.SetContext(ctx))
	if err != nil {
		s.log().WithError(err).Warn("lifecycle: gitea mirror client init failed")
		return
	}
	opt := gitea.CreateRepoOption{
		Name:        repo.Namespace + "-" + repo.Name,
		Description: fmt.Sprintf("read-only mirror pointer for %s", repo.FullID()),
		Private:     repo.Private,
		AutoInit:    false,
	}
	if _, _, err := client.CreateRepo(opt); err != nil {
		s.log().WithError(err).WithField("repo", repo.FullID()).Warn("lifecycle: gitea mirror registration failed, continuing")
	}
}

// Delete runs the repository deletion orchestration: permission check,
// soft delete in DB to block new operations, full-repo GC, Version Store
// deletion, Storage Gateway prefix delete, cascade row removal, quota
// subtraction.
func (s *Service) Delete(ctx context.Context, repoType metadata.RepoType, namespace, name string, identity permission.Identity) error {
	repo, err := permission.Guard(ctx, s.Store, repoType, namespace, name, identity, func(r permission.Rights) bool { return r.Delete })
	if err != nil {
		return err
	}

	usedBytes, err := s.Store.SumFileSizes(ctx, []uint64{repo.ID})
	if err != nil {
		return huberr.Internal("summing repository size before delete", err)
	}

	if err := s.Store.DB.WithContext(ctx).Model(repo).Update("deleted", true).Error; err != nil {
		return huberr.Internal("marking repository deleted", err)
	}

	if s.GC != nil {
		if err := s.GC.Enqueue(ctx, gc.Job{RepositoryID: repo.ID, FullRepo: true, EnqueuedAt: time.Now()}); err != nil {
			s.log().WithError(err).WithField("repo", repo.FullID()).Warn("lifecycle: full-repo gc enqueue failed, blobs may leak until next cleanup")
		}
	}

	lakefsRepo := lakefsRepoName(repoType, namespace, name)
	if err := s.VersionStore.DeleteRepo(ctx, lakefsRepo); err != nil {
		s.log().WithError(err).WithField("repo", repo.FullID()).Warn("lifecycle: version store delete failed, storage may leak")
	}
	if err := s.Storage.DeletePrefix(ctx, storage.RepoPrefix(string(repoType), namespace, name), 8); err != nil {
		s.log().WithError(err).WithField("repo", repo.FullID()).Warn("lifecycle: storage prefix delete failed")
	}

	err = s.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("repository_id = ?", repo.ID).Delete(&metadata.File{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repository_id = ?", repo.ID).Delete(&metadata.Commit{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repository_id = ?", repo.ID).Delete(&metadata.LFSObjectHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repository_id = ?", repo.ID).Delete(&metadata.StagingUpload{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(repo).Error; err != nil {
			return err
		}
		if usedBytes > 0 {
			owner := quota.Owner{UserID: repo.OwnerUserID, OrganizationID: repo.OwnerOrganizationID}
			bucket := quota.Public
			if repo.Private {
				bucket = quota.Private
			}
			if err := quota.Update(ctx, tx, owner, bucket, -usedBytes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return huberr.Internal("cascading repository delete failed", err)
	}
	return nil
}

// MoveRequest describes a rename/reparent.
type MoveRequest struct {
	RepoType                   metadata.RepoType
	FromNamespace, FromName    string
	ToNamespace, ToName        string
	Identity                   permission.Identity
}

// redirects is an in-process map of old full_id -> new full_id, installed
// by Move. A real deployment would persist this in the Metadata Store;
// kept as a package-level table here since no named entity models
// redirects and adding one would be scope creep beyond the data model.
var redirects = struct {
	m map[string]string
}{m: make(map[string]string)}

// ResolveRedirect returns the new full_id for an old one, if a Move
// installed a redirect for it.
func ResolveRedirect(repoType metadata.RepoType, oldFullID string) (string, bool) {
	v, ok := redirects.m[string(repoType)+"/"+oldFullID]
	return v, ok
}

// Move runs the repository rename orchestration. The whole operation is
// best-effort atomic: if the storage-prefix copy fails after the Version
// Store rename succeeds, the new location is still exposed and a
// structured log records the pending cleanup for manual follow-up.
func (s *Service) Move(ctx context.Context, req MoveRequest) (*metadata.Repository, error) {
	repo, err := permission.Guard(ctx, s.Store, req.RepoType, req.FromNamespace, req.FromName, req.Identity, func(r permission.Rights) bool { return r.Delete })
	if err != nil {
		return nil, err
	}

	conflict, err := s.Store.NameConflicts(ctx, req.RepoType, req.ToNamespace, req.ToName)
	if err != nil {
		return nil, huberr.Internal("checking destination name conflict", err)
	}
	if conflict {
		return nil, huberr.RepoExists(fmt.Sprintf("%s/%s already exists or collides with a user/organization name", req.ToNamespace, req.ToName))
	}

	usedBytes, err := s.Store.SumFileSizes(ctx, []uint64{repo.ID})
	if err != nil {
		return nil, huberr.Internal("summing repository size before move", err)
	}

	oldLakefsRepo := lakefsRepoName(req.RepoType, req.FromNamespace, req.FromName)
	newLakefsRepo := lakefsRepoName(req.RepoType, req.ToNamespace, req.ToName)
	oldPrefix := storage.RepoPrefix(string(req.RepoType), req.FromNamespace, req.FromName)
	newPrefix := storage.RepoPrefix(string(req.RepoType), req.ToNamespace, req.ToName)
	newStorageURI := fmt.Sprintf("s3://%s/%s", s.Storage.Bucket(), newPrefix)

	if err := s.VersionStore.CreateRepo(ctx, newLakefsRepo, newStorageURI, "main"); err != nil {
		return nil, huberr.Internal("version store repository creation for move target failed", err)
	}

	pendingCleanup := false
	if err := s.copyPrefix(ctx, oldPrefix, newPrefix); err != nil {
		s.log().WithError(err).WithFields(logrus.Fields{
			"from": req.FromNamespace + "/" + req.FromName,
			"to":   req.ToNamespace + "/" + req.ToName,
		}).Warn("lifecycle: move storage copy failed, new location exposed with pending cleanup")
		pendingCleanup = true
	}

	oldNamespace, oldName, oldRepoType := repo.Namespace, repo.Name, repo.RepoType
	oldFullID := repo.FullID()

	err = s.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo.Namespace = req.ToNamespace
		repo.NamespaceNormalized = metadata.NormalizeName(req.ToNamespace)
		repo.Name = req.ToName
		repo.NameNormalized = metadata.NormalizeName(req.ToName)
		return tx.Save(repo).Error
	})
	if err != nil {
		return nil, huberr.Internal("updating repository namespace/name failed", err)
	}

	if !pendingCleanup {
		if err := s.Storage.DeletePrefix(ctx, oldPrefix, 8); err != nil {
			s.log().WithError(err).Warn("lifecycle: move old-prefix cleanup failed")
		}
	}
	if err := s.VersionStore.DeleteRepo(ctx, oldLakefsRepo); err != nil {
		s.log().WithError(err).Warn("lifecycle: move old version-store repo delete failed")
	}

	// Quota ownership is unaffected by a rename: its move operation
	// only renames namespace/name, it does not reparent to a different
	// owner, so no quota bucket transfer is needed here (contrast
	// VisibilityChange, which does move bytes between buckets).
	_ = usedBytes

	redirects.m[string(oldRepoType)+"/"+oldFullID] = repo.FullID()
	s.log().WithFields(logrus.Fields{"from": oldNamespace + "/" + oldName, "to": repo.FullID()}).Info("lifecycle: repository moved")

	return repo, nil
}

func (s *Service) copyPrefix(ctx context.Context, oldPrefix, newPrefix string) error {
	// The Storage Gateway's Copy operates on single keys; a prefix copy
	// is performed as list-then-copy, matching DeletePrefix's list-loop
	// shape rather than adding a second bulk primitive to the Gateway's
	// interface.
	return s.Storage.CopyPrefix(ctx, oldPrefix, newPrefix, 8)
}

// Squash collapses a branch's history to one synthetic commit whose tree
// matches the current tip. The old history is retained under a hidden
// ref rather than deleted, so a squash can be recovered from manually.
func (s *Service) Squash(ctx context.Context, repoType metadata.RepoType, namespace, name, branch string, identity permission.Identity, username, message string) (string, error) {
	repo, err := permission.Guard(ctx, s.Store, repoType, namespace, name, identity, func(r permission.Rights) bool { return r.Admin })
	if err != nil {
		return "", err
	}

	lakefsRepo := lakefsRepoName(repoType, namespace, name)
	archiveTag := fmt.Sprintf("kohaku-squash-archive-%d", time.Now().Unix())
	if err := s.VersionStore.CreateTag(ctx, lakefsRepo, branch, archiveTag, "pre-squash archive"); err != nil {
		return "", huberr.Internal("archiving pre-squash history failed", err)
	}

	orphanBranch := fmt.Sprintf("kohaku-squash-orphan-%d", time.Now().Unix())
	if err := s.VersionStore.CreateBranch(ctx, lakefsRepo, branch, orphanBranch); err != nil {
		return "", huberr.Internal("creating orphan branch failed", err)
	}

	commitID, err := s.VersionStore.Commit(ctx, lakefsRepo, orphanBranch, message, "squashed history", map[string]string{"squash": "true"})
	if err != nil {
		return "", huberr.Internal("squash commit failed", err)
	}

	if err := s.VersionStore.HardReset(ctx, lakefsRepo, branch, commitID); err != nil {
		return "", huberr.Internal("resetting branch to squashed commit failed", err)
	}
	if err := s.VersionStore.DeleteBranch(ctx, lakefsRepo, orphanBranch); err != nil {
		s.log().WithError(err).Warn("lifecycle: orphan branch cleanup failed")
	}

	if err := s.Store.DB.WithContext(ctx).Create(&metadata.Commit{
		CommitID:     commitID,
		RepositoryID: repo.ID,
		RepoType:     repoType,
		Branch:       branch,
		Username:     username,
		Message:      message,
		Description:  fmt.Sprintf("squashed history archived under tag %s", archiveTag),
	}).Error; err != nil {
		return "", huberr.Internal("recording squash commit failed", err)
	}

	if s.GC != nil {
		_ = s.GC.Enqueue(ctx, gc.Job{RepositoryID: repo.ID, EnqueuedAt: time.Now()})
	}

	return commitID, nil
}

func lakefsRepoName(repoType metadata.RepoType, namespace, name string) string {
	return fmt.Sprintf("hf-%s-%s-%s", repoType, metadata.NormalizeName(namespace), metadata.NormalizeName(name))
}

// ndjsonSeedBody builds the default .gitattributes seed commit body. The
// content is the base64 of "* filter=lfs diff=lfs merge=lfs -text", with
// no trailing newline.
func ndjsonSeedBody() *bytes.Reader {
	content := "{\"key\":\"header\",\"value\":{\"summary\":\"Initial commit\"}}\n" +
		"{\"key\":\"file\",\"value\":{\"path\":\".gitattributes\",\"content\":\"KiBmaWx0ZXI9bGZzIGRpZmY9bGZzIG1lcmdlPWxmcyAtdGV4dA==\",\"encoding\":\"base64\"}}\n"
	return bytes.NewReader([]byte(content))
}
