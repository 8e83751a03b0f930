// Package handlers implements the operator API: offer lifecycle, blacklist
// administration, feed sources, prompt management, DLQ tooling and the
// decision entry point. Handlers are constructor closures over their
// dependencies; every error renders the {code, message} envelope.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autoguard/backend/internal/api"
	"github.com/autoguard/backend/internal/blacklist"
	"github.com/autoguard/backend/internal/circuitbreaker"
	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/engine"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/pages"
	"github.com/autoguard/backend/internal/queue"
)

// Store is the authoritative-store surface the API consumes.
type Store interface {
	Ping(ctx context.Context) error

	CreateOffer(ctx context.Context, o *core.Offer) (*core.Offer, error)
	GetOffer(ctx context.Context, id int64) (*core.Offer, error)
	ListOffersByUser(ctx context.Context, userID int64) ([]*core.Offer, error)
	UpdateOffer(ctx context.Context, id int64, brandName, brandURL, affiliateLink string, cloakEnabled bool, targetCountries []string) (*core.Offer, error)
	ActivateOffer(ctx context.Context, id int64) (*core.Offer, error)
	PauseOffer(ctx context.Context, id int64) error
	SoftDeleteOffer(ctx context.Context, id int64) error
	SetCustomDomain(ctx context.Context, id int64, domain, token string) error
	UpsertPage(ctx context.Context, p *core.Page) (*core.Page, error)

	UpsertRule(ctx context.Context, r *core.Rule) (int64, error)
	GetRule(ctx context.Context, family string, id int64) (*core.Rule, error)
	SoftDeactivateRule(ctx context.Context, family string, id int64) error
	ListEffectiveRules(ctx context.Context, family string) ([]core.Rule, error)
	CountRules(ctx context.Context) (map[string]int64, error)

	CreateSource(ctx context.Context, src *core.BlacklistSource) (*core.BlacklistSource, error)
	GetSource(ctx context.Context, id int64) (*core.BlacklistSource, error)
	ListSources(ctx context.Context) ([]*core.BlacklistSource, error)
	MarkSourceSyncing(ctx context.Context, id int64) error

	CreatePrompt(ctx context.Context, name, description string) (*core.Prompt, error)
	GetPrompt(ctx context.Context, id int64) (*core.Prompt, error)
	ListPrompts(ctx context.Context) ([]*core.Prompt, error)
	CreatePromptVersion(ctx context.Context, promptID int64, content string) (*core.PromptVersion, error)
	ListPromptVersions(ctx context.Context, promptID int64) ([]*core.PromptVersion, error)
	ActivateVersionExclusive(ctx context.Context, promptID, versionID int64) error

	ListRecentLogs(ctx context.Context, offerID int64, limit int) ([]*core.CloakLog, error)
	ListDailyStats(ctx context.Context, userID, offerID int64, from, to time.Time) ([]core.DailyStat, error)

	GetSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error

	CreateUser(ctx context.Context, email, password, role string) (*core.User, error)
	GetUser(ctx context.Context, id int64) (*core.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// Deps carries everything the router wires into the endpoints.
type Deps struct {
	Store        Store
	Fast         faststore.Client
	Engine       *engine.Engine
	Routing      *engine.Routing
	Settings     *engine.SettingsCache
	Queue        *queue.Reliable
	Materializer *blacklist.Materializer
	Breakers     *circuitbreaker.Manager
	Disk         *pages.Disk
	TokenSalt    string
	Logger       *slog.Logger
}

// NewRouter assembles the full route table. The decision entry point is
// mounted twice: explicitly under /d and as the host-routed catch-all, so
// any path on a cloaked domain resolves to a verdict.
func NewRouter(d Deps) *mux.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(api.RequestID(), api.Recover(d.Logger), api.RequestLogger(d.Logger), api.CORS())
	r.MethodNotAllowedHandler = methodNotAllowed()

	r.HandleFunc("/health", Health(d.Store, d.Fast, d.Breakers)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/offers", CreateOffer(d.Store, d.Queue, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/offers", ListOffers(d.Store, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/offers/{id}", GetOffer(d.Store, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/offers/{id}", UpdateOffer(d.Store, d.Routing, d.Logger)).Methods(http.MethodPut)
	v1.HandleFunc("/offers/{id}", DeleteOffer(d.Store, d.Routing, d.Disk, d.Logger)).Methods(http.MethodDelete)
	v1.HandleFunc("/offers/{id}/activate", ActivateOffer(d.Store, d.Routing, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/offers/{id}/pause", PauseOffer(d.Store, d.Routing, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/offers/{id}/domain", SetCustomDomain(d.Store, d.Routing, d.Queue, d.TokenSalt, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/offers/{id}/verify", VerifyDomain(d.Store, d.Queue, d.Logger)).Methods(http.MethodPost)

	v1.HandleFunc("/blacklist/rules", CreateRule(d.Store, d.Materializer, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/blacklist/rules", ListRules(d.Store, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/blacklist/rules/{family}/{id}", DeleteRule(d.Store, d.Materializer, d.Logger)).Methods(http.MethodDelete)
	v1.HandleFunc("/blacklist/materialize", Materialize(d.Materializer, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/blacklist/counts", RuleCounts(d.Store, d.Logger)).Methods(http.MethodGet)

	v1.HandleFunc("/sources", CreateSource(d.Store, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/sources", ListSources(d.Store, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/sources/{id}/sync", SyncSource(d.Store, d.Queue, d.Logger)).Methods(http.MethodPost)

	v1.HandleFunc("/prompts", CreatePrompt(d.Store, d.Fast, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/prompts", ListPrompts(d.Store, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/prompts/{id}/versions", CreatePromptVersion(d.Store, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/prompts/{id}/versions", ListPromptVersions(d.Store, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/prompts/{id}/versions/{versionId}/activate", ActivatePromptVersion(d.Store, d.Fast, d.Logger)).Methods(http.MethodPost)

	v1.HandleFunc("/dlq/{queue}", ListDeadJobs(d.Queue, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/dlq/{queue}/requeue", RequeueDeadJob(d.Queue, d.Logger)).Methods(http.MethodPost)

	v1.HandleFunc("/logs", ListLogs(d.Store, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/stats", ListStats(d.Store, d.Logger)).Methods(http.MethodGet)

	v1.HandleFunc("/settings", GetSettings(d.Store, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/settings", UpdateSettings(d.Store, d.Settings, d.Logger)).Methods(http.MethodPut)

	v1.HandleFunc("/users", CreateUser(d.Store, d.Logger)).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}", GetUser(d.Store, d.Fast, d.Logger)).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}", DeleteUser(d.Store, d.Logger)).Methods(http.MethodDelete)

	decide := Decide(d.Engine, d.Routing, d.Logger)
	r.HandleFunc("/d", decide).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(decide).Methods(http.MethodGet)

	return r
}
