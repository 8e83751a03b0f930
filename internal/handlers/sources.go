package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/jobs"
	"github.com/autoguard/backend/internal/queue"
)

// CreateSource registers an external blacklist feed.
func CreateSource(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var src core.BlacklistSource
		if err := decodeJSON(w, r, &src); err != nil {
			respondError(w, logger, err)
			return
		}
		src.ID = 0
		created, err := st.CreateSource(r.Context(), &src)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		logger.Info("Blacklist source created", "sourceId", created.ID, "name", created.Name)
		respondJSON(w, http.StatusCreated, created)
	}
}

// ListSources returns every configured feed.
func ListSources(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := st.ListSources(r.Context())
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if sources == nil {
			sources = []*core.BlacklistSource{}
		}
		respondJSON(w, http.StatusOK, sources)
	}
}

// SyncSource queues an immediate sync of one feed instead of waiting for
// the scheduler's next scan.
func SyncSource(st Store, q *queue.Reliable, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		ctx := r.Context()
		src, err := st.GetSource(ctx, id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if !src.IsActive {
			respondError(w, logger, core.Validationf("source %d is inactive", id))
			return
		}
		if src.URL == "" {
			respondError(w, logger, core.Validationf("source %d has no url", id))
			return
		}

		payload, err := jobs.Encode(jobs.SourceSyncJob{
			SourceID:    src.ID,
			SourceName:  src.Name,
			SourceType:  src.SourceType,
			URL:         src.URL,
			TriggeredBy: "api",
			TriggeredAt: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if err := q.Enqueue(ctx, faststore.QueueBlacklistSync, payload); err != nil {
			respondError(w, logger, err)
			return
		}
		if err := st.MarkSourceSyncing(ctx, id); err != nil {
			logger.Warn("Source sync mark failed", "sourceId", id, "error", err)
		}

		logger.Info("Source sync queued", "sourceId", id, "name", src.Name)
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"source_id": id,
			"status":    "queued",
		})
	}
}
