package core

import (
	"fmt"
	"time"
)

// User owns offers. Deleting a user cascades to their offers.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`   // "admin" or "user"
	Status       string    `json:"status"` // "active" or "suspended"
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Offer is a tracked campaign: one system subdomain, optionally a verified
// custom domain, a money page and a safe page.
type Offer struct {
	ID                     int64      `json:"id"`
	UserID                 int64      `json:"user_id"`
	BrandName              string     `json:"brand_name"`
	BrandURL               string     `json:"brand_url"`
	AffiliateLink          string     `json:"affiliate_link"`
	Subdomain              string     `json:"subdomain"` // immutable once set
	CustomDomain           string     `json:"custom_domain,omitempty"`
	CustomDomainStatus     string     `json:"custom_domain_status"` // none|pending|verified|failed
	CustomDomainToken      string     `json:"custom_domain_token,omitempty"`
	CustomDomainVerifiedAt *time.Time `json:"custom_domain_verified_at,omitempty"`
	CustomDomainError      string     `json:"custom_domain_error,omitempty"` // which check failed, verbatim
	CloakEnabled           bool       `json:"cloak_enabled"`
	TargetCountries        []string   `json:"target_countries"` // ISO-3166-1 alpha-2
	ScrapeStatus           string     `json:"scrape_status"`    // pending|scraping|completed|failed
	ScrapeError            string     `json:"scrape_error,omitempty"`
	ScrapedAt              *time.Time `json:"scraped_at,omitempty"`
	PageTitle              string     `json:"page_title,omitempty"`
	PageDescription        string     `json:"page_description,omitempty"`
	Status                 string     `json:"status"` // draft|active|paused
	IsDeleted              bool       `json:"is_deleted"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Offer statuses.
const (
	OfferDraft  = "draft"
	OfferActive = "active"
	OfferPaused = "paused"
)

// Custom-domain verification states.
const (
	DomainNone     = "none"
	DomainPending  = "pending"
	DomainVerified = "verified"
	DomainFailed   = "failed"
)

// Page is one rendered variant of an offer. At most one row per
// (offerId, pageType).
type Page struct {
	ID            int64    `json:"id"`
	OfferID       int64    `json:"offer_id"`
	PageType      string   `json:"page_type"`      // money|safe
	ContentSource string   `json:"content_source"` // scraped|generated|manual
	SafePageType  string   `json:"safe_page_type,omitempty"` // review|tips|comparison|guide
	Competitors   []string `json:"competitors,omitempty"`
	// GenerationParams is an opaque bag of client-supplied generation knobs.
	// The pipeline stores and echoes it without interpreting it.
	GenerationParams map[string]interface{} `json:"generation_params,omitempty"`
	HTMLContent      string                 `json:"html_content,omitempty"`
	Status           string                 `json:"status"` // draft|generating|generated|published|failed
	GenerationError  string                 `json:"generation_error,omitempty"`
	PublishedAt      *time.Time             `json:"published_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Page types and statuses.
const (
	PageMoney = "money"
	PageSafe  = "safe"

	PageStatusDraft      = "draft"
	PageStatusGenerating = "generating"
	PageStatusGenerated  = "generated"
	PageStatusPublished  = "published"
	PageStatusFailed     = "failed"
)

// Page directory variants: the money page serves under /a/, the safe page
// under /b/.
const (
	VariantMoney = "a"
	VariantSafe  = "b"
)

// Rule families materialized into the fast store.
const (
	FamilyIP      = "ip"
	FamilyIPRange = "iprange"
	FamilyUA      = "ua"
	FamilyISP     = "isp"
	FamilyGeo     = "geo"
)

// Families lists every rule family in materialization order.
var Families = []string{FamilyIP, FamilyIPRange, FamilyUA, FamilyISP, FamilyGeo}

// Rule is one blacklist entry. UserID 0 means global scope. Exactly the
// fields of the owning family are set.
type Rule struct {
	ID        int64      `json:"id"`
	Family    string     `json:"family"`
	UserID    int64      `json:"user_id,omitempty"` // 0 = global
	IsActive  bool       `json:"is_active"`
	Source    string     `json:"source,omitempty"` // e.g. "manual", "source:<id>"
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	IPAddress   string `json:"ip_address,omitempty"`   // ip family
	CIDR        string `json:"cidr,omitempty"`         // iprange family
	Pattern     string `json:"pattern,omitempty"`      // ua family
	PatternType string `json:"pattern_type,omitempty"` // exact|contains|regex
	ASN         string `json:"asn,omitempty"`          // isp family
	ISPName     string `json:"isp_name,omitempty"`     // isp family
	CountryCode string `json:"country_code,omitempty"` // geo family
	RegionCode  string `json:"region_code,omitempty"`  // geo family
	BlockType   string `json:"block_type,omitempty"`   // block|high_risk

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Geo block types.
const (
	GeoBlock    = "block"
	GeoHighRisk = "high_risk"
)

// UA pattern types.
const (
	PatternExact    = "exact"
	PatternContains = "contains"
	PatternRegex    = "regex"
)

// BlacklistSource is an external feed of IP/CIDR rules. Rules imported from
// it carry source="source:<id>" so a resync can replace them atomically.
type BlacklistSource struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	SourceType      string     `json:"source_type"`      // builtin|external|community
	URL             string     `json:"url,omitempty"`
	UpdateFrequency string     `json:"update_frequency"` // daily|weekly|monthly
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	NextSyncAt      *time.Time `json:"next_sync_at,omitempty"`
	SyncStatus      string     `json:"sync_status,omitempty"` // success|failed|syncing
	SyncError       string     `json:"sync_error,omitempty"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
}

// SourceTag builds the rule source tag for feed-imported rules.
func SourceTag(sourceID int64) string {
	return fmt.Sprintf("source:%d", sourceID)
}

// Detection layers a request can be blocked at.
const (
	LayerBlacklist = "L1"
	LayerIntel     = "L2"
	LayerGeo       = "L3"
	LayerUA        = "L4"
	LayerReferer   = "L5"
	LayerTimeout   = "TIMEOUT"
)

// Decisions.
const (
	DecisionMoney = "money"
	DecisionSafe  = "safe"
)

// TrackingParams carries the ad-click parameters extracted from the
// request URL. HasTrackingParams is true only when a click id is present.
type TrackingParams struct {
	GclID             string            `json:"gclid,omitempty"`
	FbclID            string            `json:"fbclid,omitempty"`
	MsclkID           string            `json:"msclkid,omitempty"`
	TtclID            string            `json:"ttclid,omitempty"`
	TwclID            string            `json:"twclid,omitempty"`
	ClickID           string            `json:"click_id,omitempty"`
	UTM               map[string]string `json:"utm,omitempty"`
	Ref               string            `json:"ref,omitempty"`
	AffiliateID       string            `json:"affiliate_id,omitempty"`
	HasTrackingParams bool              `json:"has_tracking_params"`
}

// DecisionRecord is the decision engine's verdict for one request.
type DecisionRecord struct {
	Decision         string                 `json:"decision"` // money|safe
	FraudScore       int                    `json:"fraud_score"`
	BlockedAtLayer   string                 `json:"blocked_at_layer,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	Details          map[string]interface{} `json:"details,omitempty"`
	TrackingParams   TrackingParams         `json:"tracking_params"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
}

// CloakLog is one append-only decision record. It is buffered in the fast
// store and drained into the authoritative store asynchronously.
type CloakLog struct {
	ID                int64                  `json:"id,omitempty"`
	UserID            int64                  `json:"user_id"`
	OfferID           int64                  `json:"offer_id"`
	IPAddress         string                 `json:"ip_address"`
	UserAgent         string                 `json:"user_agent"`
	Referer           string                 `json:"referer,omitempty"`
	RequestURL        string                 `json:"request_url"`
	Decision          string                 `json:"decision"`
	DecisionReason    string                 `json:"decision_reason,omitempty"`
	FraudScore        int                    `json:"fraud_score"`
	BlockedAtLayer    string                 `json:"blocked_at_layer,omitempty"`
	DetectionDetails  map[string]interface{} `json:"detection_details,omitempty"`
	IPCountry         string                 `json:"ip_country,omitempty"`
	IPCity            string                 `json:"ip_city,omitempty"`
	IPISP             string                 `json:"ip_isp,omitempty"`
	IPASN             string                 `json:"ip_asn,omitempty"`
	IsDatacenter      bool                   `json:"is_datacenter"`
	IsVPN             bool                   `json:"is_vpn"`
	IsProxy           bool                   `json:"is_proxy"`
	ProcessingTimeMs  int64                  `json:"processing_time_ms"`
	HasTrackingParams bool                   `json:"has_tracking_params"`
	GclID             string                 `json:"gclid,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// DailyStat aggregates cloak logs per (userId, offerId, statDate).
type DailyStat struct {
	UserID          int64     `json:"user_id"`
	OfferID         int64     `json:"offer_id"`
	StatDate        string    `json:"stat_date"` // YYYY-MM-DD
	TotalVisits     int64     `json:"total_visits"`
	MoneyPageVisits int64     `json:"money_page_visits"`
	SafePageVisits  int64     `json:"safe_page_visits"`
	UniqueIPs       int64     `json:"unique_ips"`
	AvgFraudScore   float64   `json:"avg_fraud_score"`
	BlockedL1       int64     `json:"blocked_l1"`
	BlockedL2       int64     `json:"blocked_l2"`
	BlockedL3       int64     `json:"blocked_l3"`
	BlockedL4       int64     `json:"blocked_l4"`
	BlockedL5       int64     `json:"blocked_l5"`
	BlockedTimeout  int64     `json:"blocked_timeout"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Prompt is an LLM prompt template; exactly one of its versions is active.
type Prompt struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PromptVersion is one revision of a prompt's content.
type PromptVersion struct {
	ID        int64     `json:"id"`
	PromptID  int64     `json:"prompt_id"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// OfferRouting is the denormalized offer view cached in the fast store under
// the offer:bySubdomain / offer:byDomain / offer:byId keys. It is everything
// the decision hot path needs without touching the authoritative store.
type OfferRouting struct {
	OfferID         int64    `json:"offer_id"`
	UserID          int64    `json:"user_id"`
	Subdomain       string   `json:"subdomain"`
	CustomDomain    string   `json:"custom_domain,omitempty"`
	CloakEnabled    bool     `json:"cloak_enabled"`
	TargetCountries []string `json:"target_countries,omitempty"`
	Status          string   `json:"status"`
}

// Scopes partition blacklist rules. ScopeGlobal applies to every offer;
// a user scope applies only to that user's offers.
const ScopeGlobal = "global"

// UserScope returns the scope literal for one user's rules.
func UserScope(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}
