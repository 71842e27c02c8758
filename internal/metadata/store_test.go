package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Alice":     "alice",
		"My_Model":  "my-model",
		"ALL_CAPS":  "all-caps",
		"already-k": "already-k",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in))
	}
}

func TestRepository_FullID(t *testing.T) {
	r := &Repository{Namespace: "alice", Name: "m1"}
	assert.Equal(t, "alice/m1", r.FullID())
}
