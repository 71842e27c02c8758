package gitbridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/kohakuhub/kohakuhub/internal/gitbridge/objcache"
	"github.com/kohakuhub/kohakuhub/internal/lfs"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/versionstore"
)

// DefaultLFSThresholdBytes is the size at or above which a blob is emitted
// as LFS pointer text instead of raw content.
const DefaultLFSThresholdBytes = 1 << 20

// Translator synthesizes Git objects from a repository's Version Store
// state and Metadata Store commit history.
type Translator struct {
	Meta         *metadata.Store
	VersionStore versionstore.Store
	Cache        *objcache.Cache
	LFSThreshold int64
	BotEmail     string
}

func (t *Translator) threshold() int64 {
	if t.LFSThreshold <= 0 {
		return DefaultLFSThresholdBytes
	}
	return t.LFSThreshold
}

// CommitChain is one repository branch's linear history, oldest first,
// alongside every Git object (commits, trees, blobs) needed to pack it.
type CommitChain struct {
	Commits []Object // one per metadata.Commit row, same order
	All     []Object // every object referenced, de-duplicated by SHA
}

// BuildChain synthesizes the full Git object graph for repositoryID's
// branch, starting fresh after startAfterCommitID (empty string means from
// the beginning) — the ComputeCommon step truncates the chain to this
// point once it has identified a common ancestor from the client's haves.
func (t *Translator) BuildChain(ctx context.Context, lakefsRepo string, repositoryID uint64, branch, startAfterCommitID string) (*CommitChain, error) {
	rows, err := t.Meta.ListCommitsForBranch(ctx, repositoryID, branch)
	if err != nil {
		return nil, fmt.Errorf("gitbridge: loading commit history: %w", err)
	}

	if startAfterCommitID != "" {
		for i, row := range rows {
			if row.CommitID == startAfterCommitID {
				rows = rows[i+1:]
				break
			}
		}
	}

	chain := &CommitChain{}
	seen := make(map[[20]byte]bool)
	var parentSHA [20]byte
	havesParent := false

	for _, row := range rows {
		tree, treeObjs, err := t.buildTree(ctx, lakefsRepo, repositoryID, row.CommitID)
		if err != nil {
			return nil, fmt.Errorf("gitbridge: building tree for commit %s: %w", row.CommitID, err)
		}

		var parents [][20]byte
		if havesParent {
			parents = [][20]byte{parentSHA}
		}
		sig := commitSignature(row, t.BotEmail)
		commitObj := BuildCommitObject(tree.SHA, parents, sig, sig, commitMessage(row))

		chain.Commits = append(chain.Commits, commitObj)
		appendUnique(chain, seen, commitObj)
		appendUnique(chain, seen, tree)
		for _, o := range treeObjs {
			appendUnique(chain, seen, o)
		}

		parentSHA = commitObj.SHA
		havesParent = true
	}

	return chain, nil
}

func appendUnique(chain *CommitChain, seen map[[20]byte]bool, obj Object) {
	if seen[obj.SHA] {
		return
	}
	seen[obj.SHA] = true
	chain.All = append(chain.All, obj)
}

func commitSignature(row metadata.Commit, botEmail string) Signature {
	if botEmail == "" {
		botEmail = "noreply@kohakuhub.local"
	}
	return Signature{Name: row.Username, Email: fmt.Sprintf("%s+%s", row.Username, botEmail), When: row.CreatedAt}
}

func commitMessage(row metadata.Commit) string {
	if row.Description == "" {
		return row.Message
	}
	return row.Message + "\n\n" + row.Description
}

// buildTree synthesizes the full tree hierarchy for commitID's file
// listing, applying the LFS pointer-substitution rule per path.
func (t *Translator) buildTree(ctx context.Context, lakefsRepo string, repositoryID uint64, commitID string) (root Object, all []Object, err error) {
	list, err := t.VersionStore.ListObjects(ctx, lakefsRepo, commitID, "", true, "", 0)
	if err != nil {
		return Object{}, nil, err
	}

	var files []FileEntry
	for _, entry := range list.Entries {
		if entry.IsDir {
			continue
		}
		blobObj, err := t.blobFor(ctx, lakefsRepo, repositoryID, commitID, entry)
		if err != nil {
			return Object{}, nil, err
		}
		all = append(all, blobObj)
		files = append(files, FileEntry{Path: entry.Path, SHA: blobObj.SHA})
	}

	root, trees := BuildTreeFromFiles(files)
	all = append(all, trees...)
	return root, all, nil
}

// blobFor builds (or fetches from cache) the blob Object for one file at
// one commit, substituting the LFS pointer text when the path was
// LFS-tracked at that commit or its size meets the threshold.
func (t *Translator) blobFor(ctx context.Context, lakefsRepo string, repositoryID uint64, commitID string, entry versionstore.ObjectEntry) (Object, error) {
	if t.Cache != nil {
		if cached, ok, err := t.Cache.Get(commitID, entry.Path); err == nil && ok {
			sha, decodeErr := decodeHex20(cached.SHA)
			if decodeErr == nil {
				return Object{Type: ObjBlob, SHA: sha}, nil
			}
		}
	}

	lfsRow, err := t.Meta.LFSHistoryForCommitPath(ctx, repositoryID, entry.Path, commitID)
	isLFS := err == nil
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return Object{}, err
	}

	var content []byte
	if isLFS {
		content = []byte(lfs.PointerText(lfsRow.SHA256, lfsRow.Size))
	} else if entry.Size >= t.threshold() {
		// Size-threshold promotion: emit a pointer over the blob's own
		// digest even though it was committed inline.
		content = []byte(lfs.PointerText(entry.SHA256, entry.Size))
	} else {
		rc, err := t.VersionStore.GetObject(ctx, lakefsRepo, commitID, entry.Path)
		if err != nil {
			return Object{}, fmt.Errorf("gitbridge: reading %s at %s: %w", entry.Path, commitID, err)
		}
		defer rc.Close()
		content, err = io.ReadAll(rc)
		if err != nil {
			return Object{}, fmt.Errorf("gitbridge: reading %s at %s: %w", entry.Path, commitID, err)
		}
	}

	obj := NewObject(ObjBlob, content)
	if t.Cache != nil {
		_ = t.Cache.Put(commitID, entry.Path, objcache.Entry{SHA: obj.SHAHex(), LFS: isLFS, Size: int64(len(content))})
	}
	return obj, nil
}

func decodeHex20(s string) ([20]byte, error) {
	var sha [20]byte
	if len(s) != 40 {
		return sha, fmt.Errorf("gitbridge: invalid cached sha %q", s)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return sha, err
	}
	copy(sha[:], decoded)
	return sha, nil
}
