package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kohakuhub/kohakuhub/internal/huberr"
)

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", bearerToken(req))

	req.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", bearerToken(req))
}

func TestIdentityMiddleware_AnonymousWhenVerifierDisabled(t *testing.T) {
	e := echo.New()
	iv := &IdentityVerifier{}
	mw := IdentityMiddleware(iv)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen bool
	handler := mw(func(c echo.Context) error {
		seen = true
		id := IdentityFromContext(c)
		assert.True(t, id.Anonymous)
		return nil
	})
	require.NoError(t, handler(c))
	assert.True(t, seen)
}

func TestIdentityFromContext_DefaultsAnonymous(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	assert.True(t, IdentityFromContext(c).Anonymous)
}

func TestAdminMiddleware(t *testing.T) {
	e := echo.New()
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	cases := []struct {
		name       string
		adminToken string
		header     func(r *http.Request)
		wantStatus int
	}{
		{"disabled", "", func(r *http.Request) {}, http.StatusForbidden},
		{"missing token", "secret", func(r *http.Request) {}, http.StatusForbidden},
		{"wrong token", "secret", func(r *http.Request) { r.Header.Set("X-Admin-Token", "nope") }, http.StatusForbidden},
		{"correct bearer", "secret", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, http.StatusOK},
		{"correct header", "secret", func(r *http.Request) { r.Header.Set("X-Admin-Token", "secret") }, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/healthz", nil)
			tc.header(req)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := AdminMiddleware(tc.adminToken)(ok)
			err := handler(c)
			if tc.wantStatus == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
			} else {
				he, isHTTPErr := err.(*echo.HTTPError)
				require.True(t, isHTTPErr)
				assert.Equal(t, tc.wantStatus, he.Code)
			}
		})
	}
}

func TestRepoLabel(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("namespace", "name")
	c.SetParamValues("alice", "demo")
	assert.Equal(t, "alice/demo", repoLabel(c))

	c2 := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Equal(t, "", repoLabel(c2))
}

func TestErrorHandler_HubErr(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(c, huberr.NotFound("repository not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(huberr.CodeRepoNotFound), rec.Header().Get("X-Error-Code"))
}

func TestErrorHandler_EchoHTTPError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(c, echo.NewHTTPError(http.StatusBadRequest, "bad routing"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorHandler_GenericFallsBackTo500(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(huberr.CodeServerError), rec.Header().Get("X-Error-Code"))
}

func TestErrorHandler_AlreadyCommittedNoop(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, c.NoContent(http.StatusOK))

	ErrorHandler(c, errors.New("too late"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
