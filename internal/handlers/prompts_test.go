package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

func TestCreatePromptActivatesFirstVersion(t *testing.T) {
	fx := newFixture(t)

	var out promptWithVersion
	rec := fx.do(t, http.MethodPost, "/api/v1/prompts", map[string]string{
		"name":        "safe-page-review",
		"description": "review article generator",
		"content":     "Write a review of {{brandName}}.",
	}, &out)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, out.Prompt)
	require.NotNil(t, out.Version)
	assert.Equal(t, "safe-page-review", out.Prompt.Name)
	assert.Equal(t, 1, out.Version.Version)
	assert.True(t, out.Version.IsActive)

	// Same name again conflicts.
	rec = fx.do(t, http.MethodPost, "/api/v1/prompts", map[string]string{
		"name": "safe-page-review", "content": "x",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPromptVersionLifecycle(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var created promptWithVersion
	fx.do(t, http.MethodPost, "/api/v1/prompts", map[string]string{
		"name": "safe-page-tips", "content": "v1 body",
	}, &created)
	promptID := created.Prompt.ID

	// New versions arrive inactive.
	var v2 core.PromptVersion
	rec := fx.do(t, http.MethodPost, fmt.Sprintf("/api/v1/prompts/%d/versions", promptID),
		map[string]string{"content": "v2 body"}, &v2)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, v2.Version)
	assert.False(t, v2.IsActive)

	var versions []*core.PromptVersion
	rec = fx.do(t, http.MethodGet, fmt.Sprintf("/api/v1/prompts/%d/versions", promptID), nil, &versions)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version) // newest first

	// The generator's read-through cache is dropped on activation.
	require.NoError(t, fx.fast.Set(ctx, faststore.Prompt("safe-page-tips"), "stale body", 0))
	rec = fx.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/prompts/%d/versions/%d/activate", promptID, v2.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := fx.fast.Get(ctx, faststore.Prompt("safe-page-tips"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	for _, v := range fx.fs.versions[promptID] {
		assert.Equal(t, v.ID == v2.ID, v.IsActive, "version %d", v.Version)
	}
}

func TestActivateUnknownPromptVersion(t *testing.T) {
	fx := newFixture(t)

	var created promptWithVersion
	fx.do(t, http.MethodPost, "/api/v1/prompts", map[string]string{
		"name": "safe-page-guide", "content": "v1",
	}, &created)

	rec := fx.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/prompts/%d/versions/424242/activate", created.Prompt.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, core.CodeNotFound, errorCode(t, rec))
}
