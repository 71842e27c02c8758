package commit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"gorm.io/gorm"

	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/permission"
	"github.com/kohakuhub/kohakuhub/internal/quota"
	"github.com/kohakuhub/kohakuhub/internal/storage"
	"github.com/kohakuhub/kohakuhub/internal/versionstore"
)

// Request is one commit pipeline invocation.
type Request struct {
	RepoType metadata.RepoType
	Namespace, Name string
	Branch   string
	Body     io.Reader
	Identity permission.Identity
	Username string
}

// Response is the commit pipeline's successful result.
type Response struct {
	CommitURL       string
	CommitOID       string
	PullRequestURL  *string
	TouchedLFSPaths []string // paths whose LFS SHA changed, fed to post-commit GC scheduling
}

// Pipeline wires the Metadata Store, Version Store, and Storage Gateway
// together to run the multi-op NDJSON commit algorithm.
type Pipeline struct {
	Store               *metadata.Store
	VersionStore        versionstore.Store
	Storage             *storage.Gateway
	Fanout              int
	InlineThresholdBytes int64
	BaseURL             string
}

// Run executes the full commit algorithm.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	repo, err := permission.Guard(ctx, p.Store, req.RepoType, req.Namespace, req.Name, req.Identity, func(r permission.Rights) bool { return r.Write })
	if err != nil {
		return nil, err
	}

	header, ops, err := ParseNDJSON(req.Body)
	if err != nil {
		return nil, err
	}

	owner := ownerOf(repo)
	bucket := quota.Public
	if repo.Private {
		bucket = quota.Private
	}

	delta, err := p.planDelta(ctx, repo, ops)
	if err != nil {
		return nil, err
	}
	if delta > 0 {
		if err := quota.Check(ctx, p.Store.DB, owner, bucket, delta); err != nil {
			return nil, err
		}
	}

	type staged struct {
		path    string
		size    int64
		sha256  string
		lfs     bool
		deleted bool
	}
	results := make(chan staged, len(ops))

	err = RunFanout(ctx, p.Fanout, ops, func(ctx context.Context, op Op) error {
		outcome, err := p.stageOp(ctx, repo, req.Branch, op)
		if err != nil {
			return err
		}
		for _, o := range outcome {
			results <- staged{path: o.path, size: o.size, sha256: o.sha256, lfs: o.lfs, deleted: o.deleted}
		}
		return nil
	})
	close(results)
	if err != nil {
		return nil, huberr.Internal("commit staging failed", err)
	}

	var staged_ []staged
	for s := range results {
		staged_ = append(staged_, s)
	}

	commitID, err := p.VersionStore.Commit(ctx, lakefsRepoName(req.RepoType, req.Namespace, req.Name), req.Branch, header.Summary, header.Description, nil)
	if err != nil {
		if errors.Is(err, versionstore.ErrConflict) {
			return nil, huberr.Conflict("concurrent commit on this branch, retry")
		}
		return nil, huberr.Internal("version store commit failed", err)
	}

	var touchedLFS []string
	txErr := p.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range staged_ {
			if s.deleted {
				if err := metadata.DeleteFile(tx, repo.ID, s.path); err != nil {
					return err
				}
				continue
			}
			if err := metadata.UpsertFile(tx, &metadata.File{
				RepositoryID: repo.ID,
				RepoType:     req.RepoType,
				PathInRepo:   s.path,
				Size:         s.size,
				SHA256:       s.sha256,
				LFS:          s.lfs,
			}); err != nil {
				return err
			}
			if s.lfs {
				touchedLFS = append(touchedLFS, s.path)
				if err := tx.Create(&metadata.LFSObjectHistory{
					RepositoryID: repo.ID,
					PathInRepo:   s.path,
					SHA256:       s.sha256,
					Size:         s.size,
					CommitID:     commitID,
				}).Error; err != nil {
					return err
				}
			}
		}
		if err := tx.Create(&metadata.Commit{
			CommitID:     commitID,
			RepositoryID: repo.ID,
			RepoType:     req.RepoType,
			Branch:       req.Branch,
			Username:     req.Username,
			Message:      header.Summary,
			Description:  header.Description,
		}).Error; err != nil {
			return err
		}
		if delta != 0 {
			if err := quota.Update(ctx, tx, owner, bucket, delta); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return nil, huberr.Internal("commit metadata transaction failed", txErr)
	}

	return &Response{
		CommitURL: fmt.Sprintf("%s/%ss/%s/commit/%s", p.BaseURL, req.RepoType, repo.FullID(), commitID),
		CommitOID: commitID,
		TouchedLFSPaths: touchedLFS,
	}, nil
}

func ownerOf(repo *metadata.Repository) quota.Owner {
	return quota.Owner{UserID: repo.OwnerUserID, OrganizationID: repo.OwnerOrganizationID}
}

func lakefsRepoName(repoType metadata.RepoType, namespace, name string) string {
	return fmt.Sprintf("hf-%s-%s-%s", repoType, metadata.NormalizeName(namespace), metadata.NormalizeName(name))
}

// planDelta estimates the net storage delta the ops will apply, for
// quota.Check's pre-check. The same estimate is what quota.Update adds to
// the counter in the DB transaction; the File rows record the actually
// staged sizes, and quota.Recompute derives the counters from those.
func (p *Pipeline) planDelta(ctx context.Context, repo *metadata.Repository, ops []Op) (int64, error) {
	var delta int64
	for _, op := range ops {
		switch op.Kind {
		case OpFile:
			data, err := op.File.Decode()
			if err != nil {
				return 0, err
			}
			if int64(len(data)) > p.InlineThresholdBytes {
				return 0, huberr.BadRequest("inline file exceeds inline_threshold_bytes; use lfsFile")
			}
			delta += int64(len(data)) - p.existingSize(ctx, repo, op.File.Path)
		case OpLFSFile:
			delta += op.LFSFile.Size - p.existingSize(ctx, repo, op.LFSFile.Path)
		case OpDeletedFile:
			delta -= p.existingSize(ctx, repo, op.DeletedFile.Path)
		case OpDeletedFolder:
			// Folder-sized pre-checks require a prefix scan; approximated
			// as zero here since deletes never increase usage and the
			// authoritative recompute corrects any drift.
		case OpCopyFile:
			src, err := p.Store.FindFile(ctx, repo.ID, op.CopyFile.SrcPath)
			if err == nil {
				delta += src.Size - p.existingSize(ctx, repo, op.CopyFile.Path)
			}
		}
	}
	return delta, nil
}

func (p *Pipeline) existingSize(ctx context.Context, repo *metadata.Repository, path string) int64 {
	f, err := p.Store.FindFile(ctx, repo.ID, path)
	if err != nil {
		return 0
	}
	return f.Size
}

type opOutcome struct {
	path    string
	size    int64
	sha256  string
	lfs     bool
	deleted bool
}

// stageOp stages a single operation into the Version Store, returning one
// outcome per affected path (deletedFolder may affect many).
func (p *Pipeline) stageOp(ctx context.Context, repo *metadata.Repository, branch string, op Op) ([]opOutcome, error) {
	lakefsRepo := lakefsRepoName(repo.RepoType, repo.Namespace, repo.Name)

	switch op.Kind {
	case OpFile:
		data, err := op.File.Decode()
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])
		if existing, err := p.Store.FindFile(ctx, repo.ID, op.File.Path); err == nil &&
			existing.SHA256 == digest && existing.Size == int64(len(data)) {
			// Idempotent: identical content already on this path.
			return []opOutcome{{path: op.File.Path, size: existing.Size, sha256: digest, lfs: false}}, nil
		}
		if err := p.VersionStore.UploadObject(ctx, lakefsRepo, branch, op.File.Path, data); err != nil {
			return nil, err
		}
		return []opOutcome{{path: op.File.Path, size: int64(len(data)), sha256: digest, lfs: false}}, nil

	case OpLFSFile:
		key := storage.LFSKey(op.LFSFile.OID)
		head, err := p.Storage.Head(ctx, key)
		if err != nil {
			return nil, err
		}
		if !head.Exists {
			return nil, huberr.BadRequest(fmt.Sprintf("lfs object %s was not uploaded", op.LFSFile.OID))
		}
		s3uri := fmt.Sprintf("s3://%s/%s", p.Storage.Bucket(), key)
		if err := p.VersionStore.LinkPhysicalAddress(ctx, lakefsRepo, branch, op.LFSFile.Path, s3uri, op.LFSFile.OID, op.LFSFile.Size); err != nil {
			return nil, err
		}
		return []opOutcome{{path: op.LFSFile.Path, size: op.LFSFile.Size, sha256: op.LFSFile.OID, lfs: true}}, nil

	case OpDeletedFile:
		if err := p.VersionStore.DeleteObject(ctx, lakefsRepo, branch, op.DeletedFile.Path); err != nil && !errors.Is(err, versionstore.ErrNotFound) {
			return nil, err
		}
		return []opOutcome{{path: op.DeletedFile.Path, deleted: true}}, nil

	case OpDeletedFolder:
		list, err := p.VersionStore.ListObjects(ctx, lakefsRepo, branch, op.DeletedFolder.Path, true, "", 0)
		if err != nil {
			return nil, err
		}
		outcomes := make([]opOutcome, 0, len(list.Entries))
		for _, entry := range list.Entries {
			if err := p.VersionStore.DeleteObject(ctx, lakefsRepo, branch, entry.Path); err != nil && !errors.Is(err, versionstore.ErrNotFound) {
				return nil, err
			}
			outcomes = append(outcomes, opOutcome{path: entry.Path, deleted: true})
		}
		return outcomes, nil

	case OpCopyFile:
		srcRef := resolveSrcRef(op.CopyFile.SrcRevision, branch)
		stat, err := p.VersionStore.StatObject(ctx, lakefsRepo, srcRef, op.CopyFile.SrcPath)
		if err != nil {
			return nil, err
		}
		if stat.PhysicalAddress != "" {
			if err := p.VersionStore.LinkPhysicalAddress(ctx, lakefsRepo, branch, op.CopyFile.Path, stat.PhysicalAddress, stat.SHA256, stat.Size); err != nil {
				return nil, err
			}
			return []opOutcome{{path: op.CopyFile.Path, size: stat.Size, sha256: stat.SHA256, lfs: true}}, nil
		}
		rc, err := p.VersionStore.GetObject(ctx, lakefsRepo, srcRef, op.CopyFile.SrcPath)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		if err := p.VersionStore.UploadObject(ctx, lakefsRepo, branch, op.CopyFile.Path, data); err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		return []opOutcome{{path: op.CopyFile.Path, size: int64(len(data)), sha256: hex.EncodeToString(sum[:])}}, nil
	}
	return nil, huberr.BadRequest(fmt.Sprintf("unhandled op kind %q", op.Kind))
}

// resolveSrcRef picks the ref a copy-from source is read at: the
// destination branch when srcRevision is unset, otherwise srcRevision
// unchanged. It does no commit-SHA/branch disambiguation of its own; the
// Version Store resolves the value as a ref.
func resolveSrcRef(srcRevision, destBranch string) string {
	if srcRevision == "" {
		return destBranch
	}
	return srcRevision
}
