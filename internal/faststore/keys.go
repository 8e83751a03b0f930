package faststore

import (
	"fmt"
	"time"
)

// Queue names. Each reliable queue owns three companion keys derived by
// QueueProcessing, QueueDelayed and QueueDead. queue:cloakLogs is a plain
// buffer list drained by the stats flusher, not a reliable queue.
const (
	QueuePageGeneration     = "queue:pageGeneration"
	QueueBlacklistSync      = "queue:blacklistSync"
	QueueDomainVerification = "queue:domainVerification"
	QueueCloakLogs          = "queue:cloakLogs"
)

// TTLs owned by the fast store.
const (
	SessionTTL = 7 * 24 * time.Hour
	PromptTTL  = 1 * time.Hour
)

// BlacklistIP is the set of blocked IPv4 addresses for a scope.
func BlacklistIP(scope string) string { return "blacklist:ip:" + scope }

// BlacklistIPRanges is the JSON-array scalar of CIDR strings for a scope.
func BlacklistIPRanges(scope string) string { return "blacklist:ipranges:" + scope }

// BlacklistUAs is the list of {"pattern","type"} JSON records for a scope.
func BlacklistUAs(scope string) string { return "blacklist:uas:" + scope }

// BlacklistISPs is the set of blocked ASNs for a scope.
func BlacklistISPs(scope string) string { return "blacklist:isps:" + scope }

// BlacklistISPNames is the asn -> name hash for a scope.
func BlacklistISPNames(scope string) string { return "blacklist:isps:" + scope + ":names" }

// BlacklistGeos is the CC or CC:REGION -> blockType hash for a scope.
func BlacklistGeos(scope string) string { return "blacklist:geos:" + scope }

// BlacklistScopes tracks which scopes a family was materialized for, so a
// scope whose last rule disappears gets its stale keys deleted on the next
// run.
func BlacklistScopes(family string) string { return "blacklist:scopes:" + family }

// OfferBySubdomain routes a system subdomain label to an offer.
func OfferBySubdomain(subdomain string) string { return "offer:bySubdomain:" + subdomain }

// OfferByDomain routes a verified custom domain to an offer.
func OfferByDomain(domain string) string { return "offer:byDomain:" + domain }

// OfferByID is the id-keyed copy of the routing record.
func OfferByID(offerID int64) string { return fmt.Sprintf("offer:byId:%d", offerID) }

// QueueProcessing holds jobs popped but not yet acked.
func QueueProcessing(queue string) string { return queue + ":processing" }

// QueueDelayed holds retry jobs scored by earliest-eligible wall-clock ms.
func QueueDelayed(queue string) string { return queue + ":delayed" }

// QueueDead is the terminal list for jobs that exhausted their retries.
func QueueDead(queue string) string { return queue + ":dead" }

// Session stores one session record, TTL SessionTTL.
func Session(sid string) string { return "session:" + sid }

// SessionUser indexes a user's live session ids.
func SessionUser(userID int64) string { return fmt.Sprintf("session:user:%d", userID) }

// Prompt caches the active content of a prompt, TTL PromptTTL.
func Prompt(name string) string { return "prompt:" + name }
