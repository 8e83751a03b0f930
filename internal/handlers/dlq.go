package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/queue"
)

// URL slugs for the reliable queues.
var dlqQueues = map[string]string{
	"page-generation":     faststore.QueuePageGeneration,
	"blacklist-sync":      faststore.QueueBlacklistSync,
	"domain-verification": faststore.QueueDomainVerification,
}

const defaultDeadLimit = 50

// deadEntry pairs the exact raw payload (what requeue expects back) with
// its parsed form for display.
type deadEntry struct {
	Payload string          `json:"payload"`
	Job     json.RawMessage `json:"job"`
}

type dlqResponse struct {
	Queue      string      `json:"queue"`
	Ready      int64       `json:"ready"`
	Processing int64       `json:"processing"`
	Delayed    int64       `json:"delayed"`
	Dead       int64       `json:"dead"`
	Entries    []deadEntry `json:"entries"`
}

// ListDeadJobs returns a queue's depth counters and its newest dead
// payloads.
func ListDeadJobs(q *queue.Reliable, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := dlqQueue(r)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if limit == 0 {
			limit = defaultDeadLimit
		}

		ctx := r.Context()
		depths, err := q.Depth(ctx, name)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		raw, err := q.DeadJobs(ctx, name, limit)
		if err != nil {
			respondError(w, logger, err)
			return
		}

		entries := make([]deadEntry, 0, len(raw))
		for _, payload := range raw {
			e := deadEntry{Payload: payload}
			if json.Valid([]byte(payload)) {
				e.Job = json.RawMessage(payload)
			}
			entries = append(entries, e)
		}
		respondJSON(w, http.StatusOK, dlqResponse{
			Queue:      mux.Vars(r)["queue"],
			Ready:      depths.Ready,
			Processing: depths.Processing,
			Delayed:    depths.Delayed,
			Dead:       depths.Dead,
			Entries:    entries,
		})
	}
}

type requeueRequest struct {
	Payload string `json:"payload"`
}

// RequeueDeadJob moves one dead payload back onto its queue with a reset
// attempt counter. The payload must match a dead entry byte for byte.
func RequeueDeadJob(q *queue.Reliable, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := dlqQueue(r)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		var req requeueRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, logger, err)
			return
		}
		if req.Payload == "" {
			respondError(w, logger, core.Validationf("payload is required"))
			return
		}
		if err := q.RequeueDead(r.Context(), name, req.Payload); err != nil {
			respondError(w, logger, err)
			return
		}
		logger.Info("Dead job requeued", "queue", name)
		respondJSON(w, http.StatusNoContent, nil)
	}
}

func dlqQueue(r *http.Request) (string, error) {
	slug := mux.Vars(r)["queue"]
	name, ok := dlqQueues[slug]
	if !ok {
		return "", core.Validationf("unknown queue %q", slug)
	}
	return name, nil
}
