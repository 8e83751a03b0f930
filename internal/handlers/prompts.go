package handlers

import (
	"log/slog"
	"net/http"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

type createPromptRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

type promptWithVersion struct {
	Prompt  *core.Prompt        `json:"prompt"`
	Version *core.PromptVersion `json:"version"`
}

// CreatePrompt registers a prompt with its first version. The first version
// activates itself, so the generator can use the prompt immediately.
func CreatePrompt(st Store, fast faststore.Client, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPromptRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, logger, err)
			return
		}

		ctx := r.Context()
		prompt, err := st.CreatePrompt(ctx, req.Name, req.Description)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		version, err := st.CreatePromptVersion(ctx, prompt.ID, req.Content)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		invalidatePromptCache(r, fast, prompt.Name, logger)

		logger.Info("Prompt created", "promptId", prompt.ID, "name", prompt.Name)
		respondJSON(w, http.StatusCreated, promptWithVersion{Prompt: prompt, Version: version})
	}
}

// ListPrompts returns every prompt.
func ListPrompts(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prompts, err := st.ListPrompts(r.Context())
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if prompts == nil {
			prompts = []*core.Prompt{}
		}
		respondJSON(w, http.StatusOK, prompts)
	}
}

type createVersionRequest struct {
	Content string `json:"content"`
}

// CreatePromptVersion appends an inactive draft version to a prompt.
func CreatePromptVersion(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		var req createVersionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, logger, err)
			return
		}
		version, err := st.CreatePromptVersion(r.Context(), id, req.Content)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusCreated, version)
	}
}

// ListPromptVersions returns a prompt's versions, newest first.
func ListPromptVersions(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		versions, err := st.ListPromptVersions(r.Context(), id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if versions == nil {
			versions = []*core.PromptVersion{}
		}
		respondJSON(w, http.StatusOK, versions)
	}
}

// ActivatePromptVersion makes one version the active one and drops the
// prompt's read-through cache entry. Cache invalidation runs after the
// commit: a racing generator re-reads at worst the fresh value twice.
func ActivatePromptVersion(st Store, fast faststore.Client, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		versionID, err := pathID(r, "versionId")
		if err != nil {
			respondError(w, logger, err)
			return
		}

		ctx := r.Context()
		prompt, err := st.GetPrompt(ctx, id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if err := st.ActivateVersionExclusive(ctx, id, versionID); err != nil {
			respondError(w, logger, err)
			return
		}
		invalidatePromptCache(r, fast, prompt.Name, logger)

		logger.Info("Prompt version activated",
			"promptId", id, "versionId", versionID, "name", prompt.Name)
		respondJSON(w, http.StatusNoContent, nil)
	}
}

func invalidatePromptCache(r *http.Request, fast faststore.Client, name string, logger *slog.Logger) {
	if err := fast.Del(r.Context(), faststore.Prompt(name)); err != nil {
		logger.Warn("Prompt cache invalidation failed", "name", name, "error", err)
	}
}
