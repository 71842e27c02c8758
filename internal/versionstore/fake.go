package versionstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory Store used by httpapi integration tests, grounded in
// the same mock-over-interface idiom as storage.MockS3Client: no external
// process needed, same success/error contract as Client.
type Fake struct {
	mu      sync.Mutex
	repos   map[string]*fakeRepo
	commits map[string]*Commit
}

type fakeRepo struct {
	storageURI string
	branches   map[string]map[string]*fakeObject // branch -> path -> object
	tags       map[string]string                 // tag -> ref
}

type fakeObject struct {
	content         []byte
	physicalAddress string
	sha256          string
	size            int64
}

// NewFake builds an empty in-memory version store.
func NewFake() *Fake {
	return &Fake{
		repos:   make(map[string]*fakeRepo),
		commits: make(map[string]*Commit),
	}
}

func (f *Fake) repo(name string) (*fakeRepo, error) {
	r, ok := f.repos[name]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (f *Fake) CreateRepo(ctx context.Context, name, storageURI, defaultBranch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[name]; ok {
		return ErrConflict
	}
	f.repos[name] = &fakeRepo{
		storageURI: storageURI,
		branches:   map[string]map[string]*fakeObject{defaultBranch: {}},
		tags:       map[string]string{},
	}
	return nil
}

func (f *Fake) DeleteRepo(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[name]; !ok {
		return ErrNotFound
	}
	delete(f.repos, name)
	return nil
}

func (f *Fake) CreateBranch(ctx context.Context, repo, sourceRef, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	if _, ok := r.branches[newName]; ok {
		return ErrConflict
	}
	src, ok := r.branches[sourceRef]
	if !ok {
		return ErrRefNotFound
	}
	copied := make(map[string]*fakeObject, len(src))
	for k, v := range src {
		cp := *v
		copied[k] = &cp
	}
	r.branches[newName] = copied
	return nil
}

func (f *Fake) DeleteBranch(ctx context.Context, repo, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	if _, ok := r.branches[branch]; !ok {
		return ErrRefNotFound
	}
	delete(r.branches, branch)
	return nil
}

func (f *Fake) CreateTag(ctx context.Context, repo, ref, name, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	if _, ok := r.tags[name]; ok {
		return ErrConflict
	}
	r.tags[name] = ref
	return nil
}

func (f *Fake) DeleteTag(ctx context.Context, repo, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	if _, ok := r.tags[name]; !ok {
		return ErrNotFound
	}
	delete(r.tags, name)
	return nil
}

func (f *Fake) resolveBranch(r *fakeRepo, ref string) (map[string]*fakeObject, error) {
	if b, ok := r.branches[ref]; ok {
		return b, nil
	}
	if tagged, ok := r.tags[ref]; ok {
		return f.resolveBranch(r, tagged)
	}
	return nil, ErrRefNotFound
}

func (f *Fake) UploadObject(ctx context.Context, repo, branch, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	b, ok := r.branches[branch]
	if !ok {
		return ErrRefNotFound
	}
	b[path] = &fakeObject{content: content, size: int64(len(content))}
	return nil
}

func (f *Fake) LinkPhysicalAddress(ctx context.Context, repo, branch, path, s3URI, sha256 string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	b, ok := r.branches[branch]
	if !ok {
		return ErrRefNotFound
	}
	b[path] = &fakeObject{physicalAddress: s3URI, sha256: sha256, size: size}
	return nil
}

func (f *Fake) Commit(ctx context.Context, repo, branch, message, description string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return "", err
	}
	if _, ok := r.branches[branch]; !ok {
		return "", ErrRefNotFound
	}
	id := uuid.New().String()
	f.commits[id] = &Commit{
		ID:      id,
		Branch:  branch,
		Message: message,
	}
	return id, nil
}

func (f *Fake) ListObjects(ctx context.Context, repo, ref, prefix string, recursive bool, after string, limit int) (ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return ListResult{}, err
	}
	objs, err := f.resolveBranch(r, ref)
	if err != nil {
		return ListResult{}, err
	}
	var paths []string
	for p := range objs {
		if strings.HasPrefix(p, prefix) {
			if !recursive {
				rest := strings.TrimPrefix(p, prefix)
				if strings.Contains(rest, "/") {
					continue
				}
			}
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	var entries []ObjectEntry
	for _, p := range paths {
		if after != "" && p <= after {
			continue
		}
		o := objs[p]
		entries = append(entries, ObjectEntry{Path: p, Size: o.size, SHA256: o.sha256})
		if limit > 0 && len(entries) == limit {
			return ListResult{Entries: entries, HasMore: true, NextAfter: p}, nil
		}
	}
	return ListResult{Entries: entries}, nil
}

func (f *Fake) StatObject(ctx context.Context, repo, ref, path string) (ObjectStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return ObjectStat{}, err
	}
	objs, err := f.resolveBranch(r, ref)
	if err != nil {
		return ObjectStat{}, err
	}
	o, ok := objs[path]
	if !ok {
		return ObjectStat{}, ErrNotFound
	}
	return ObjectStat{Path: path, Size: o.size, SHA256: o.sha256, PhysicalAddress: o.physicalAddress}, nil
}

func (f *Fake) GetObject(ctx context.Context, repo, ref, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return nil, err
	}
	objs, err := f.resolveBranch(r, ref)
	if err != nil {
		return nil, err
	}
	o, ok := objs[path]
	if !ok {
		return nil, ErrNotFound
	}
	if o.content == nil {
		return nil, fmt.Errorf("versionstore: fake object %q has no inline content (physical address %q)", path, o.physicalAddress)
	}
	return io.NopCloser(bytes.NewReader(o.content)), nil
}

func (f *Fake) DeleteObject(ctx context.Context, repo, branch, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	b, ok := r.branches[branch]
	if !ok {
		return ErrRefNotFound
	}
	if _, ok := b[path]; !ok {
		return ErrNotFound
	}
	delete(b, path)
	return nil
}

func (f *Fake) Diff(ctx context.Context, repo, leftRef, rightRef, after string, limit int) (DiffResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return DiffResult{}, err
	}
	left, err := f.resolveBranch(r, leftRef)
	if err != nil {
		return DiffResult{}, err
	}
	right, err := f.resolveBranch(r, rightRef)
	if err != nil {
		return DiffResult{}, err
	}
	var entries []DiffEntry
	for p, ro := range right {
		lo, ok := left[p]
		if !ok {
			entries = append(entries, DiffEntry{Path: p, Type: "added"})
		} else if lo.sha256 != ro.sha256 || !bytes.Equal(lo.content, ro.content) {
			entries = append(entries, DiffEntry{Path: p, Type: "changed"})
		}
	}
	for p := range left {
		if _, ok := right[p]; !ok {
			entries = append(entries, DiffEntry{Path: p, Type: "removed"})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return DiffResult{Entries: entries}, nil
}

func (f *Fake) Merge(ctx context.Context, repo, src, dst string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return "", err
	}
	srcObjs, err := f.resolveBranch(r, src)
	if err != nil {
		return "", err
	}
	dstObjs, ok := r.branches[dst]
	if !ok {
		return "", ErrRefNotFound
	}
	for p, o := range srcObjs {
		cp := *o
		dstObjs[p] = &cp
	}
	id := uuid.New().String()
	f.commits[id] = &Commit{ID: id, Branch: dst, Message: fmt.Sprintf("merge %s into %s", src, dst)}
	return id, nil
}

func (f *Fake) Revert(ctx context.Context, repo, branch, commit string) error {
	// The fake keeps no per-commit snapshots, so revert is a no-op beyond
	// validating the branch and commit reference exist.
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	if _, ok := r.branches[branch]; !ok {
		return ErrRefNotFound
	}
	if _, ok := f.commits[commit]; !ok {
		return ErrRefNotFound
	}
	return nil
}

func (f *Fake) HardReset(ctx context.Context, repo, branch, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repo)
	if err != nil {
		return err
	}
	if _, ok := r.branches[branch]; !ok {
		return ErrRefNotFound
	}
	if _, ok := f.commits[commit]; !ok {
		return ErrRefNotFound
	}
	return nil
}
