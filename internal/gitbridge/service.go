package gitbridge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kohakuhub/kohakuhub/internal/metadata"
)

// capabilities is the minimal Git protocol v0 capability set advertised
// during info/refs.
const capabilities = "multi_ack_detailed no-done side-band-64k thin-pack ofs-delta agent=kohakuhub/1"

var zeroSHA = strings.Repeat("0", 40)

// Service drives the Advertise → ReceiveWants → ReceiveHaves →
// ComputeCommon → EnumerateObjects → WritePack state machine for one
// git-upload-pack request.
type Service struct {
	Meta       *metadata.Store
	Translator *Translator
	DefaultRef string
	Log        *logrus.Entry
}

func (s *Service) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (s *Service) defaultRef() string {
	if s.DefaultRef == "" {
		return "main"
	}
	return s.DefaultRef
}

// refTip is one advertised ref and the Git SHA of its current tip.
type refTip struct {
	name string
	sha  [20]byte
	full *CommitChain
}

func (s *Service) tipsForRepo(ctx context.Context, lakefsRepo string, repo *metadata.Repository) ([]refTip, error) {
	branches, err := s.Meta.ListBranches(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("gitbridge: listing branches: %w", err)
	}
	if len(branches) == 0 {
		return nil, nil
	}

	var tips []refTip
	for _, branch := range branches {
		chain, err := s.Translator.BuildChain(ctx, lakefsRepo, repo.ID, branch, "")
		if err != nil {
			return nil, fmt.Errorf("gitbridge: building chain for %s: %w", branch, err)
		}
		if len(chain.Commits) == 0 {
			continue
		}
		tips = append(tips, refTip{name: "refs/heads/" + branch, sha: chain.Commits[len(chain.Commits)-1].SHA, full: chain})
	}
	return tips, nil
}

// Advertise writes the info/refs response for git-upload-pack: a service
// announcement pkt-line, then one ref-advertisement line per branch with
// capabilities attached to the first, terminated by flush-pkt.
func (s *Service) Advertise(ctx context.Context, w io.Writer, lakefsRepo string, repo *metadata.Repository) error {
	if err := WritePktLineString(w, "# service=git-upload-pack\n"); err != nil {
		return err
	}
	if err := WriteFlushPkt(w); err != nil {
		return err
	}

	tips, err := s.tipsForRepo(ctx, lakefsRepo, repo)
	if err != nil {
		return err
	}

	if len(tips) == 0 {
		if err := WritePktLineString(w, fmt.Sprintf("%s capabilities^{}\x00%s\n", zeroSHA, capabilities)); err != nil {
			return err
		}
		return WriteFlushPkt(w)
	}

	head := tips[0]
	for _, t := range tips {
		if t.name == "refs/heads/"+s.defaultRef() {
			head = t
			break
		}
	}

	if err := WritePktLineString(w, fmt.Sprintf("%s HEAD\x00%s\n", hexSHA(head.sha), capabilities)); err != nil {
		return err
	}
	for _, t := range tips {
		if err := WritePktLineString(w, fmt.Sprintf("%s %s\n", hexSHA(t.sha), t.name)); err != nil {
			return err
		}
	}
	return WriteFlushPkt(w)
}

// HeadSymref returns the "ref: refs/heads/{branch}\n" line for GET HEAD.
func (s *Service) HeadSymref() string {
	return fmt.Sprintf("ref: refs/heads/%s\n", s.defaultRef())
}

// negotiation is the parsed result of ReceiveWants/ReceiveHaves.
type negotiation struct {
	wants []string // 40-hex Git SHAs
	haves []string
	done  bool
}

// ReceiveWants parses the want/have/done lines the client sends in its
// upload-pack request body, up to the first flush-pkt or "done".
func ReceiveWants(r io.Reader) (negotiation, error) {
	pr := NewPktReader(r)
	var n negotiation
	for {
		data, isFlush, err := pr.ReadPkt()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if isFlush {
			break
		}
		line := strings.TrimRight(string(data), "\n")
		switch {
		case strings.HasPrefix(line, "want "):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				n.wants = append(n.wants, fields[1])
			}
		case strings.HasPrefix(line, "have "):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				n.haves = append(n.haves, fields[1])
			}
		case line == "done":
			n.done = true
			return n, nil
		}
	}
	return n, nil
}

// ComputeCommon maps the client's "have" Git SHAs back to LakeFS commit
// IDs via the translator cache, returning the newest common ancestor's
// commit ID if one is found (empty string if the client has nothing we
// recognize, meaning a full history must be sent).
func (s *Service) ComputeCommon(ctx context.Context, lakefsRepo string, repositoryID uint64, branch string, haves []string) (string, error) {
	if len(haves) == 0 {
		return "", nil
	}
	rows, err := s.Meta.ListCommitsForBranch(ctx, repositoryID, branch)
	if err != nil {
		return "", err
	}
	haveSet := make(map[string]bool, len(haves))
	for _, h := range haves {
		haveSet[h] = true
	}
	// Walk newest to oldest; the synthesized commit SHA for row i depends
	// only on rows[:i+1], so recompute via the cache-backed translator
	// rather than re-deriving SHAs here.
	chain, err := s.Translator.BuildChain(ctx, lakefsRepo, repositoryID, branch, "")
	if err != nil {
		return "", nil // best-effort: fall back to full history on translation failure
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if i >= len(chain.Commits) {
			continue
		}
		if haveSet[hexSHA(chain.Commits[i].SHA)] {
			return rows[i].CommitID, nil
		}
	}
	return "", nil
}

// UploadPack runs the full state machine for a git-upload-pack POST body,
// writing the response (a NAK line, side-band-64k framed pack data,
// flush) to w; no ACK lines are sent. ctx cancellation (client disconnect) aborts mid-stream with
// no server-side state left behind.
func (s *Service) UploadPack(ctx context.Context, w io.Writer, body io.Reader, lakefsRepo string, repo *metadata.Repository, branch string) error {
	neg, err := ReceiveWants(body)
	if err != nil {
		return fmt.Errorf("gitbridge: parsing upload-pack request: %w", err)
	}
	if len(neg.wants) == 0 {
		return WriteFlushPkt(w)
	}

	common, err := s.ComputeCommon(ctx, lakefsRepo, repo.ID, branch, neg.haves)
	if err != nil {
		s.log().WithError(err).Warn("gitbridge: compute-common failed, sending full history")
		common = ""
	}

	chain, err := s.Translator.BuildChain(ctx, lakefsRepo, repo.ID, branch, common)
	if err != nil {
		return fmt.Errorf("gitbridge: enumerating objects: %w", err)
	}

	if err := WritePktLineString(w, "NAK\n"); err != nil {
		return err
	}

	sideband := NewSideBandWriter(w, SideBandPack)
	bw := bufio.NewWriterSize(sideband, 32*1024)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := WritePackfile(bw, chain.All); err != nil {
		return fmt.Errorf("gitbridge: writing packfile: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return WriteFlushPkt(w)
}

func hexSHA(sha [20]byte) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%x", sha[:])
	return buf.String()
}
