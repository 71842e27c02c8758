package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kohakuhub/kohakuhub/internal/metadata"
)

func TestLakefsRepoName(t *testing.T) {
	assert.Equal(t, "hf-model-alice-my-model", lakefsRepoName(metadata.RepoTypeModel, "Alice", "My_Model"))
}

func TestNdjsonSeedBody(t *testing.T) {
	body := ndjsonSeedBody()
	buf := make([]byte, 512)
	n, _ := body.Read(buf)
	got := string(buf[:n])
	assert.Contains(t, got, "\"path\":\".gitattributes\"")
	assert.Contains(t, got, "\"summary\":\"Initial commit\"")
}

func TestResolveRedirect_Unset(t *testing.T) {
	_, ok := ResolveRedirect(metadata.RepoTypeModel, "nobody/nothing")
	assert.False(t, ok)
}

func TestResolveRedirect_InstalledByMove(t *testing.T) {
	redirects.m[string(metadata.RepoTypeDataset)+"/"+"alice/old"] = "alice/new"
	t.Cleanup(func() { delete(redirects.m, string(metadata.RepoTypeDataset)+"/"+"alice/old") })

	got, ok := ResolveRedirect(metadata.RepoTypeDataset, "alice/old")
	assert.True(t, ok)
	assert.Equal(t, "alice/new", got)
}
