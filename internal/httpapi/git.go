package httpapi

import (
	"github.com/labstack/echo/v4"

	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/permission"
)

// gitResolver adapts permission.Guard into the gitbridge.RepoResolver shape:
// Git reads require the same Read right the HF API enforces, and the
// privacy-collapse behavior (anonymous caller on a private repo sees 404,
// never 403) carries over unchanged because Guard is the single source of
// that rule. Git bridge routes only ever address models, since the bridge
// is mounted at the namespace/name.git root rather than under a typed
// /api/{type}s prefix.
func (d Deps) gitResolver(c echo.Context, namespace, name string) (*metadata.Repository, string, error) {
	identity := IdentityFromContext(c)
	repo, err := permission.Guard(c.Request().Context(), d.Store, metadata.RepoTypeModel, namespace, name, identity, func(r permission.Rights) bool { return r.Read })
	if err != nil {
		return nil, "", err
	}
	return repo, lakefsRepoName(repo.RepoType, repo.Namespace, repo.Name), nil
}
