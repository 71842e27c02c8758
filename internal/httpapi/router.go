package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kohakuhub/kohakuhub/internal/commit"
	"github.com/kohakuhub/kohakuhub/internal/config"
	"github.com/kohakuhub/kohakuhub/internal/gc"
	"github.com/kohakuhub/kohakuhub/internal/gitbridge"
	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/lfs"
	"github.com/kohakuhub/kohakuhub/internal/lifecycle"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/versionstore"
	"github.com/kohakuhub/kohakuhub/version"
)

// Deps collects every collaborator the router wires into handlers. Built
// once at process startup by cmd/kohakuhub and passed to New.
type Deps struct {
	Store        *metadata.Store
	VersionStore versionstore.Store
	Commit       *commit.Pipeline
	LFS          *lfs.Service
	GC           *gc.Queue
	Lifecycle    *lifecycle.Service
	GitBridge    *gitbridge.Service

	Identity *IdentityVerifier
	Config   *config.Config
	Metrics  *Metrics
	Log      *logrus.Logger
}

// New builds the fully wired Echo instance: identity extraction and
// request logging on every route, the HF JSON API and Git/LFS bridge
// mounted at their documented paths, and an admin group guarded by
// AdminMiddleware.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.Recover())
	e.Use(IdentityMiddleware(d.Identity))
	e.Use(RequestLogMiddleware(d.Log, d.Config.DebugLogPayloads))

	h := &hfHandlers{d: d}
	api := e.Group(d.Config.APIBase)
	api.POST("/repos/create", h.createRepo)
	api.DELETE("/repos/delete", h.deleteRepo)
	api.POST("/repos/move", h.moveRepo)
	api.GET("/:type", h.listRepos)
	api.GET("/:type/:namespace/:name", h.repoInfo)
	api.GET("/:type/:namespace/:name/tree/:revision", h.tree)
	api.GET("/:type/:namespace/:name/tree/:revision/*", h.tree)
	api.POST("/:type/:namespace/:name/paths-info/:revision", h.pathsInfo)
	api.POST("/:type/:namespace/:name/preupload/:revision", h.preupload)
	api.POST("/:type/:namespace/:name/commit/:revision", h.commitEndpoint)
	api.POST("/:namespace/:name.git/info/lfs/verify", h.lfsVerify)

	l := lfsHandlers{d: d}
	root := e.Group("")
	// Models resolve with no type prefix, per HuggingFace convention;
	// datasets/spaces carry an explicit prefix segment.
	root.GET("/:namespace/:name/resolve/:revision/*", h.resolve)
	root.HEAD("/:namespace/:name/resolve/:revision/*", h.resolve)
	root.GET("/:type/:namespace/:name/resolve/:revision/*", h.resolveTyped)
	root.HEAD("/:type/:namespace/:name/resolve/:revision/*", h.resolveTyped)
	root.POST("/:namespace/:name.git/info/lfs/objects/batch", l.batch)

	git := &gitbridge.Handlers{Service: d.GitBridge, Resolver: d.gitResolver}
	git.RegisterRoutes(root)

	if d.Config.AdminSecretToken != "" {
		admin := e.Group("/admin", AdminMiddleware(d.Config.AdminSecretToken))
		admin.GET("/metrics", echo.WrapHandler(promHandler()))
		admin.GET("/healthz", func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]string{"status": "ok"}) })
		admin.GET("/version", func(c echo.Context) error { return c.JSON(http.StatusOK, version.Get()) })
		admin.POST("/quota/recompute", h.recomputeQuota)
	}

	return e
}

func lakefsRepoName(repoType metadata.RepoType, namespace, name string) string {
	return "hf-" + string(repoType) + "-" + metadata.NormalizeName(namespace) + "-" + metadata.NormalizeName(name)
}

// repoTypeFromPlural maps the "models"/"datasets"/"spaces" path segment
// HuggingFace clients send onto the internal singular RepoType.
func repoTypeFromPlural(plural string) (metadata.RepoType, error) {
	switch plural {
	case "models":
		return metadata.RepoTypeModel, nil
	case "datasets":
		return metadata.RepoTypeDataset, nil
	case "spaces":
		return metadata.RepoTypeSpace, nil
	default:
		return "", huberr.BadRequest("unknown repo type " + plural)
	}
}
