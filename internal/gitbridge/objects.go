package gitbridge

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ObjectType is one of the loose Git object types this bridge emits
// (tags are never synthesized — only commits/trees/blobs are mapped).
type ObjectType string

const (
	ObjBlob   ObjectType = "blob"
	ObjTree   ObjectType = "tree"
	ObjCommit ObjectType = "commit"
)

// Object is a single synthesized Git object: its type, its uncompressed
// payload, and the SHA-1 the pack/pkt-line layer addresses it by.
type Object struct {
	Type    ObjectType
	Content []byte
	SHA     [20]byte
}

// HashObject computes the Git object id for (objType, content): the SHA-1
// of "{type} {len}\0{content}", exactly as git hash-object does.
func HashObject(objType ObjectType, content []byte) [20]byte {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", objType, len(content))
	h.Write(content)
	var sum [20]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// NewObject builds an Object, computing its SHA.
func NewObject(objType ObjectType, content []byte) Object {
	return Object{Type: objType, Content: content, SHA: HashObject(objType, content)}
}

// SHAHex renders o.SHA as a 40-char hex string.
func (o Object) SHAHex() string { return hex.EncodeToString(o.SHA[:]) }

// TreeEntry is one line of a synthesized tree object.
type TreeEntry struct {
	Mode string // "100644" (blob), "100755" (exec blob, unused here), "40000" (tree)
	Name string
	SHA  [20]byte
}

// sortKey implements Git's tree-entry ordering: compare names as if
// directory entries had a trailing '/': a file "foo" sorts before
// "foo.txt", but a directory "foo" (compared as "foo/") sorts after it,
// since '/' is greater than '.'. In practice this means appending '/' to
// directory names before the byte-wise comparison.
func (e TreeEntry) sortKey() string {
	if e.Mode == "40000" {
		return e.Name + "/"
	}
	return e.Name
}

// BuildTreeObject renders entries (already Git-mode-tagged) into a tree
// object's binary payload: each line is "{mode} {name}\0{20-byte sha}".
func BuildTreeObject(entries []TreeEntry) Object {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].sortKey() < sorted[j].sortKey() })

	var buf strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%s %s\x00", e.Mode, e.Name)
		buf.Write(e.SHA[:])
	}
	return NewObject(ObjTree, []byte(buf.String()))
}

// FileEntry is one file in a flat repository listing, as returned by the
// Version Store's list_objects.
type FileEntry struct {
	Path string
	SHA  [20]byte // the blob object's SHA, already computed
}

// BuildTreeFromFiles constructs the full, bottom-up tree hierarchy for a
// flat list of (path, blob sha) pairs, returning the root tree's Object
// plus every intermediate tree Object created along the way (callers
// enumerate these into the packfile too).
func BuildTreeFromFiles(files []FileEntry) (root Object, all []Object) {
	type dirNode struct {
		files map[string][20]byte
		dirs  map[string]*dirNode
	}
	newDir := func() *dirNode { return &dirNode{files: map[string][20]byte{}, dirs: map[string]*dirNode{}} }

	rootDir := newDir()
	for _, f := range files {
		parts := strings.Split(f.Path, "/")
		cur := rootDir
		for _, part := range parts[:len(parts)-1] {
			child, ok := cur.dirs[part]
			if !ok {
				child = newDir()
				cur.dirs[part] = child
			}
			cur = child
		}
		cur.files[parts[len(parts)-1]] = f.SHA
	}

	var build func(d *dirNode) Object
	build = func(d *dirNode) Object {
		var entries []TreeEntry
		for name, sha := range d.files {
			entries = append(entries, TreeEntry{Mode: "100644", Name: name, SHA: sha})
		}
		for name, child := range d.dirs {
			childObj := build(child)
			all = append(all, childObj)
			entries = append(entries, TreeEntry{Mode: "40000", Name: name, SHA: childObj.SHA})
		}
		return BuildTreeObject(entries)
	}
	root = build(rootDir)
	return root, all
}

// Signature is a commit's author or committer line.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), s.When.Format("-0700"))
}

// BuildCommitObject renders a Git commit object: one Git commit per
// LakeFS commit, parents following the LakeFS graph.
func BuildCommitObject(treeSHA [20]byte, parentSHAs [][20]byte, author, committer Signature, message string) Object {
	var buf strings.Builder
	fmt.Fprintf(&buf, "tree %s\n", hex.EncodeToString(treeSHA[:]))
	for _, p := range parentSHAs {
		fmt.Fprintf(&buf, "parent %s\n", hex.EncodeToString(p[:]))
	}
	fmt.Fprintf(&buf, "author %s\n", author)
	fmt.Fprintf(&buf, "committer %s\n", committer)
	buf.WriteString("\n")
	buf.WriteString(message)
	if !strings.HasSuffix(message, "\n") {
		buf.WriteString("\n")
	}
	return NewObject(ObjCommit, []byte(buf.String()))
}
