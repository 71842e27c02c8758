package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kohakuhub/kohakuhub/internal/huberr"
	"github.com/kohakuhub/kohakuhub/internal/lfs"
	"github.com/kohakuhub/kohakuhub/internal/metadata"
	"github.com/kohakuhub/kohakuhub/internal/permission"
	"github.com/kohakuhub/kohakuhub/internal/storage"
)

// lfsHandlers implements the Git-LFS Batch API endpoint, separate from
// hfHandlers since it is mounted at a path keyed on namespace/name rather
// than the typed /api/{type}s prefix the rest of the HF JSON API uses.
type lfsHandlers struct {
	d Deps
}

// batch handles POST /:namespace/:name.git/info/lfs/objects/batch. An
// "upload" request whose object already exists records no staging row
// (nothing to verify later) and counts as a dedup hit; a genuine upload
// action records a staging row so lfsVerify can later attribute the blob to
// its uploader.
func (l *lfsHandlers) batch(c echo.Context) error {
	namespace, name := c.Param("namespace"), c.Param("name")
	identity := IdentityFromContext(c)

	var req lfs.BatchRequest
	if err := c.Bind(&req); err != nil {
		return huberr.BadRequest("invalid lfs batch request body")
	}

	need := func(r permission.Rights) bool { return r.Read }
	if req.Operation == "upload" {
		need = func(r permission.Rights) bool { return r.Write }
	}
	repo, err := permission.Guard(c.Request().Context(), l.d.Store, metadata.RepoTypeModel, namespace, name, identity, need)
	if err != nil {
		return err
	}

	resp, err := l.d.LFS.Batch(c.Request().Context(), req)
	if err != nil {
		return err
	}

	if req.Operation == "upload" {
		for _, obj := range resp.Objects {
			if obj.Error != nil {
				continue
			}
			if len(obj.Actions) == 0 {
				if l.d.Metrics != nil {
					l.d.Metrics.LFSDedupHits.Inc()
				}
				continue
			}
			if l.d.Metrics != nil {
				l.d.Metrics.LFSUploads.Inc()
			}
			if !identity.Anonymous {
				_ = l.d.Store.CreateStagingUpload(c.Request().Context(), &metadata.StagingUpload{
					RepositoryID: repo.ID,
					SHA256:       obj.OID,
					Size:         obj.Size,
					StorageKey:   storage.LFSKey(obj.OID),
					OwnerUserID:  identity.UserID,
				})
			}
		}
	}

	return c.JSON(http.StatusOK, resp)
}
