package gitbridge

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
)

// RepoResolver looks up the repository (and its Version Store name) a Git
// Smart HTTP request targets, enforcing read permission. Wired by
// internal/httpapi so the bridge stays free of the permission package's
// import graph.
type RepoResolver func(c echo.Context, namespace, name string) (repo *metadata.Repository, lakefsRepo string, err error)

// Handlers adapts a Service onto the Git Smart HTTP endpoints: info/refs
// and upload-pack. receive-pack (push) is intentionally absent —
// repositories are read-only over Git.
type Handlers struct {
	Service  *Service
	Resolver RepoResolver
}

// RegisterRoutes mounts the bridge under g, matching the
// "/{ns}/{name}.git/..." path shape.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("/:ns/:name.git/info/refs", h.handleInfoRefs)
	g.POST("/:ns/:name.git/git-upload-pack", h.handleUploadPack)
	g.GET("/:ns/:name.git/HEAD", h.handleHead)
	g.POST("/:ns/:name.git/git-receive-pack", h.handleReceivePack)
}

func (h *Handlers) resolve(c echo.Context) (*metadata.Repository, string, error) {
	return h.Resolver(c, c.Param("ns"), c.Param("name"))
}

func (h *Handlers) writeHuberr(c echo.Context, err error) error {
	var he *huberr.Error
	if errors.As(err, &he) {
		return c.String(he.Kind.HTTPStatus(), he.Message)
	}
	return c.String(http.StatusInternalServerError, "internal error")
}

func (h *Handlers) handleInfoRefs(c echo.Context) error {
	if c.QueryParam("service") != "git-upload-pack" {
		return c.String(http.StatusForbidden, "only git-upload-pack is supported")
	}
	repo, lakefsRepo, err := h.resolve(c)
	if err != nil {
		return h.writeHuberr(c, err)
	}

	c.Response().Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().WriteHeader(http.StatusOK)
	return h.Service.Advertise(c.Request().Context(), c.Response(), lakefsRepo, repo)
}

func (h *Handlers) handleUploadPack(c echo.Context) error {
	repo, lakefsRepo, err := h.resolve(c)
	if err != nil {
		return h.writeHuberr(c, err)
	}

	branch := c.QueryParam("branch")
	if branch == "" {
		branch = h.Service.defaultRef()
	}

	c.Response().Header().Set("Content-Type", "application/x-git-upload-pack-result")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().WriteHeader(http.StatusOK)
	return h.Service.UploadPack(c.Request().Context(), c.Response(), c.Request().Body, lakefsRepo, repo, branch)
}

func (h *Handlers) handleHead(c echo.Context) error {
	if _, _, err := h.resolve(c); err != nil {
		return h.writeHuberr(c, err)
	}
	return c.String(http.StatusOK, h.Service.HeadSymref())
}

// handleReceivePack rejects pushes: Git repositories are read-only mirrors
// of the commit history recorded through the HF API.
func (h *Handlers) handleReceivePack(c echo.Context) error {
	return c.String(http.StatusNotImplemented, "git push is not supported; use the HuggingFace Hub API\n")
}
