// hf.go implements the HuggingFace-compatible JSON API: repository
// create/delete/move/list/info/tree/paths-info/preupload/commit.
// Handler bodies are thin — they bind JSON, call into the already-tested
// domain packages (lifecycle, commit, quota via permission.Guard), and
// translate the result to the wire shape. Error translation is centralized
// in ErrorHandler, so handlers simply `return err`.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kohakuhub/kohakuhub/internal/commit"
	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/lfs"
	"github.com/kohakuhub/kohakuhub/internal/lifecycle"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/permission"
	"github.com/kohakuhub/kohakuhub/internal/quota"
	"github.com/kohakuhub/kohakuhub/internal/storage"
)

type hfHandlers struct {
	d Deps
}

// resolveOwner maps a namespace segment onto the User or Organization it
// names, for both permission checks and repository ownership.
func (h *hfHandlers) resolveOwner(c echo.Context, namespace string) (userID, orgID *uint64, err error) {
	ctx := c.Request().Context()
	if org, err := h.d.Store.FindOrganizationByName(ctx, namespace); err == nil {
		id := org.ID
		return nil, &id, nil
	}
	user, err := h.d.Store.FindUserByUsername(ctx, namespace)
	if err != nil {
		return nil, nil, huberr.NotFound("namespace not found")
	}
	id := user.ID
	return &id, nil, nil
}

func (h *hfHandlers) callerUsername(c echo.Context) string {
	identity := IdentityFromContext(c)
	if identity.Anonymous {
		return ""
	}
	user, err := h.d.Store.FindUserByID(c.Request().Context(), identity.UserID)
	if err != nil {
		return ""
	}
	return user.Username
}

type createRepoRequest struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Private      bool   `json:"private,omitempty"`
	Gated        bool   `json:"gated,omitempty"`
}

type createRepoResponse struct {
	URL    string `json:"url"`
	RepoID string `json:"repo_id"`
}

func (h *hfHandlers) createRepo(c echo.Context) error {
	var req createRepoRequest
	if err := c.Bind(&req); err != nil {
		return huberr.BadRequest("invalid request body")
	}
	repoType, err := repoTypeFromPlural(req.Type + "s")
	if err != nil {
		repoType, err = repoTypeFromPlural(req.Type)
		if err != nil {
			return err
		}
	}

	identity := IdentityFromContext(c)
	if identity.Anonymous {
		return huberr.BadRequest("authentication required")
	}
	namespace := req.Organization
	if namespace == "" {
		namespace = h.callerUsername(c)
	}
	if namespace == "" {
		return huberr.Internal("could not resolve caller identity", nil)
	}

	userID, orgID, err := h.resolveOwner(c, namespace)
	if err != nil {
		return err
	}

	result, err := h.d.Lifecycle.Create(c.Request().Context(), lifecycle.CreateRequest{
		RepoType:            repoType,
		Namespace:           namespace,
		Name:                req.Name,
		Private:             req.Private,
		Gated:               req.Gated,
		OwnerUserID:         userID,
		OwnerOrganizationID: orgID,
		Identity:            identity,
		Username:            h.callerUsername(c),
	})
	if err != nil {
		return err
	}
	if h.d.Metrics != nil {
		h.d.Metrics.Commits.Inc()
	}
	return c.JSON(http.StatusOK, createRepoResponse{URL: result.URL, RepoID: result.Repo.FullID()})
}

type deleteRepoRequest struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
}

func (h *hfHandlers) deleteRepo(c echo.Context) error {
	var req deleteRepoRequest
	if err := c.Bind(&req); err != nil {
		return huberr.BadRequest("invalid request body")
	}
	repoType, err := repoTypeFromPlural(req.Type + "s")
	if err != nil {
		return err
	}
	namespace := req.Organization
	if namespace == "" {
		namespace = h.callerUsername(c)
	}
	identity := IdentityFromContext(c)
	if err := h.d.Lifecycle.Delete(c.Request().Context(), repoType, namespace, req.Name, identity); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type moveRepoRequest struct {
	Type          string `json:"type"`
	FromNamespace string `json:"fromNamespace"`
	FromName      string `json:"fromName"`
	ToNamespace   string `json:"toNamespace"`
	ToName        string `json:"toName"`
}

func (h *hfHandlers) moveRepo(c echo.Context) error {
	var req moveRepoRequest
	if err := c.Bind(&req); err != nil {
		return huberr.BadRequest("invalid request body")
	}
	repoType, err := repoTypeFromPlural(req.Type + "s")
	if err != nil {
		return err
	}
	identity := IdentityFromContext(c)
	repo, err := h.d.Lifecycle.Move(c.Request().Context(), lifecycle.MoveRequest{
		RepoType:      repoType,
		FromNamespace: req.FromNamespace,
		FromName:      req.FromName,
		ToNamespace:   req.ToNamespace,
		ToName:        req.ToName,
		Identity:      identity,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, createRepoResponse{RepoID: repo.FullID()})
}

func (h *hfHandlers) listRepos(c echo.Context) error {
	repoType, err := repoTypeFromPlural(c.Param("type"))
	if err != nil {
		return err
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	identity := IdentityFromContext(c)
	ctx := c.Request().Context()
	q := h.d.Store.DB.WithContext(ctx).Model(&metadata.Repository{}).
		Where("repo_type = ? AND deleted = false", repoType)
	if author := c.QueryParam("author"); author != "" {
		q = q.Where("namespace_normalized = ?", metadata.NormalizeName(author))
	}
	if identity.Anonymous {
		q = q.Where("private = false")
	}

	var repos []metadata.Repository
	if err := q.Order("id DESC").Limit(limit).Find(&repos).Error; err != nil {
		return huberr.Internal("listing repositories failed", err)
	}

	out := make([]map[string]interface{}, 0, len(repos))
	for _, r := range repos {
		if identity.Anonymous && r.Private {
			continue
		}
		rights := permission.EffectiveRights(&r, identity)
		if !rights.Read {
			continue
		}
		out = append(out, map[string]interface{}{
			"id":      r.FullID(),
			"private": r.Private,
			"gated":   r.Gated,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *hfHandlers) guardRead(c echo.Context) (*metadata.Repository, error) {
	repoType, err := repoTypeFromPlural(c.Param("type"))
	if err != nil {
		return nil, err
	}
	identity := IdentityFromContext(c)
	return permission.Guard(c.Request().Context(), h.d.Store, repoType, c.Param("namespace"), c.Param("name"), identity,
		func(r permission.Rights) bool { return r.Read })
}

func (h *hfHandlers) repoInfo(c echo.Context) error {
	repo, err := h.guardRead(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":      repo.FullID(),
		"private": repo.Private,
		"gated":   repo.Gated,
	})
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
	OID  string `json:"oid,omitempty"`
	LFS  bool   `json:"lfs,omitempty"`
}

func (h *hfHandlers) tree(c echo.Context) error {
	repo, err := h.guardRead(c)
	if err != nil {
		return err
	}
	revision := c.Param("revision")
	prefix := strings.TrimPrefix(c.Param("*"), "/")
	recursive := c.QueryParam("recursive") == "true" || c.QueryParam("recursive") == "1"

	lakefsRepo := lakefsRepoName(repo.RepoType, repo.Namespace, repo.Name)
	list, err := h.d.VersionStore.ListObjects(c.Request().Context(), lakefsRepo, revision, prefix, recursive, "", 1000)
	if err != nil {
		return huberr.RevisionNotFound("revision or path not found")
	}

	entries := make([]treeEntry, 0, len(list.Entries))
	for _, e := range list.Entries {
		t := "file"
		if e.IsDir {
			t = "directory"
		}
		entries = append(entries, treeEntry{Type: t, Path: e.Path, Size: e.Size, OID: e.SHA256})
	}
	return c.JSON(http.StatusOK, entries)
}

type pathsInfoRequest struct {
	Paths []string `json:"paths"`
}

type pathInfoEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	OID  string `json:"oid,omitempty"`
}

func (h *hfHandlers) pathsInfo(c echo.Context) error {
	repo, err := h.guardRead(c)
	if err != nil {
		return err
	}
	var req pathsInfoRequest
	if err := c.Bind(&req); err != nil {
		return huberr.BadRequest("invalid request body")
	}

	lakefsRepo := lakefsRepoName(repo.RepoType, repo.Namespace, repo.Name)
	revision := c.Param("revision")
	out := make([]pathInfoEntry, 0, len(req.Paths))
	for _, p := range req.Paths {
		stat, err := h.d.VersionStore.StatObject(c.Request().Context(), lakefsRepo, revision, p)
		if err != nil {
			continue
		}
		out = append(out, pathInfoEntry{Path: p, Type: "file", Size: stat.Size, OID: stat.SHA256})
	}
	return c.JSON(http.StatusOK, out)
}

type preuploadFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

type preuploadRequest struct {
	Files []preuploadFile `json:"files"`
}

type preuploadResult struct {
	Path          string `json:"path"`
	UploadMode    string `json:"uploadMode"`
	ShouldIgnore  bool   `json:"shouldIgnore"`
}

func (h *hfHandlers) preupload(c echo.Context) error {
	repo, err := h.guardRead(c)
	if err != nil {
		return err
	}
	var req preuploadRequest
	if err := c.Bind(&req); err != nil {
		return huberr.BadRequest("invalid request body")
	}

	ctx := c.Request().Context()
	out := make([]preuploadResult, 0, len(req.Files))
	for _, f := range req.Files {
		mode := "regular"
		if f.Size > h.d.Config.InlineThresholdBytes {
			mode = "lfs"
		}
		ignore := false
		if existing, err := h.d.Store.FindFile(ctx, repo.ID, f.Path); err == nil {
			ignore = existing.SHA256 == f.SHA256 && existing.Size == f.Size
		}
		out = append(out, preuploadResult{Path: f.Path, UploadMode: mode, ShouldIgnore: ignore})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"files": out})
}

func (h *hfHandlers) commitEndpoint(c echo.Context) error {
	repoType, err := repoTypeFromPlural(c.Param("type"))
	if err != nil {
		return err
	}
	identity := IdentityFromContext(c)
	resp, err := h.d.Commit.Run(c.Request().Context(), commit.Request{
		RepoType:  repoType,
		Namespace: c.Param("namespace"),
		Name:      c.Param("name"),
		Branch:    c.Param("revision"),
		Body:      c.Request().Body,
		Identity:  identity,
		Username:  h.callerUsername(c),
	})
	if err != nil {
		var he *huberr.Error
		if huberr.As(err, &he) && he.Kind == huberr.KindQuotaExceeded && h.d.Metrics != nil {
			h.d.Metrics.QuotaDenials.Inc()
		}
		return err
	}
	if h.d.Metrics != nil {
		h.d.Metrics.Commits.Inc()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"commitUrl":      resp.CommitURL,
		"commitOid":      resp.CommitOID,
		"pullRequestUrl": resp.PullRequestURL,
	})
}

// resolve serves the default (model) resolve path with no type prefix.
func (h *hfHandlers) resolve(c echo.Context) error {
	return h.doResolve(c, metadata.RepoTypeModel)
}

// resolveTyped serves the dataset/space resolve path, which carries an
// explicit type segment per HuggingFace's URL convention.
func (h *hfHandlers) resolveTyped(c echo.Context) error {
	repoType, err := repoTypeFromPlural(c.Param("type"))
	if err != nil {
		return err
	}
	return h.doResolve(c, repoType)
}

func (h *hfHandlers) doResolve(c echo.Context, repoType metadata.RepoType) error {
	identity := IdentityFromContext(c)
	repo, err := permission.Guard(c.Request().Context(), h.d.Store, repoType, c.Param("namespace"), c.Param("name"), identity,
		func(r permission.Rights) bool { return r.Read })
	if err != nil {
		return err
	}

	path := strings.TrimPrefix(c.Param("*"), "/")
	revision := c.Param("revision")
	lakefsRepo := lakefsRepoName(repo.RepoType, repo.Namespace, repo.Name)

	ctx := c.Request().Context()
	stat, err := h.d.VersionStore.StatObject(ctx, lakefsRepo, revision, path)
	if err != nil {
		return huberr.EntryNotFound("file not found at this revision")
	}

	headers := lfs.BuildResolveHeaders(revision, stat.SHA256, stat.Size)
	c.Response().Header().Set("X-Repo-Commit", headers.RepoCommit)
	c.Response().Header().Set("ETag", headers.ETag)

	if stat.PhysicalAddress != "" {
		c.Response().Header().Set("X-Linked-Etag", headers.LinkedETag)
		c.Response().Header().Set("X-Linked-Size", headers.LinkedSize)
		url, err := h.d.LFS.Storage.PresignGet(ctx, storage.LFSKey(stat.SHA256), h.d.LFS.DownloadExpiry)
		if err != nil {
			return huberr.Internal("presigning download failed", err)
		}
		if c.Request().Method == http.MethodHead {
			return c.NoContent(http.StatusOK)
		}
		return c.Redirect(http.StatusFound, url)
	}

	if c.Request().Method == http.MethodHead {
		c.Response().Header().Set("Content-Length", strconv.FormatInt(stat.Size, 10))
		return c.NoContent(http.StatusOK)
	}
	rc, err := h.d.VersionStore.GetObject(ctx, lakefsRepo, revision, path)
	if err != nil {
		return huberr.EntryNotFound("file not found at this revision")
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, "application/octet-stream", rc)
}

func (h *hfHandlers) lfsVerify(c echo.Context) error {
	var req lfs.VerifyRequest
	if err := c.Bind(&req); err != nil {
		return huberr.BadRequest("invalid request body")
	}
	if err := h.d.LFS.Verify(c.Request().Context(), req); err != nil {
		return err
	}
	identity := IdentityFromContext(c)
	if !identity.Anonymous {
		_ = h.d.Store.DeleteStagingUpload(c.Request().Context(), identity.UserID, req.OID)
	}
	return c.NoContent(http.StatusOK)
}

func (h *hfHandlers) recomputeQuota(c echo.Context) error {
	var req struct {
		UserID *uint64 `json:"userId,omitempty"`
		OrgID  *uint64 `json:"organizationId,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return huberr.BadRequest("invalid request body")
	}
	if req.UserID == nil && req.OrgID == nil {
		return huberr.BadRequest("userId or organizationId is required")
	}
	owner := quota.Owner{UserID: req.UserID, OrganizationID: req.OrgID}
	if err := quota.Recompute(c.Request().Context(), h.d.Store.DB, h.d.Store, owner); err != nil {
		return huberr.Internal("recomputing quota failed", err)
	}
	return c.NoContent(http.StatusOK)
}
