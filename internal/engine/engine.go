// Package engine implements the layered cloaking decision. A request flows
// through blacklist, IP-intelligence, geo-targeting, user-agent and referer
// layers, accumulating a fraud score as it goes; a hard blacklist hit or a
// score at or above the safe-mode threshold serves the safe page. The engine
// never widens exposure on partial information: any error or deadline
// overrun collapses to the safe page with the TIMEOUT layer.
package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/intel"
	"github.com/autoguard/backend/internal/metrics"
)

const maxScore = 100

// Request carries the per-visit inputs the layers evaluate.
type Request struct {
	IP        string
	UserAgent string
	Referer   string
	URL       string // full request URL including query string
	Headers   map[string]string
}

// OfferContext is the routing slice of the offer the request landed on.
type OfferContext struct {
	OfferID         int64
	UserID          int64
	CloakEnabled    bool
	TargetCountries []string
}

// Engine evaluates requests against the materialized blacklists, the IP
// intelligence provider and the per-offer targeting rules.
type Engine struct {
	fast     faststore.Client
	intel    intel.Client // nil when no provider is configured
	settings *SettingsCache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(fast faststore.Client, ic intel.Client, settings *SettingsCache, mx *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{fast: fast, intel: ic, settings: settings, metrics: mx, logger: logger}
}

// evaluation accumulates layer state across one decision.
type evaluation struct {
	req        Request
	offer      OfferContext
	st         core.Settings
	tracking   core.TrackingParams
	score      int
	lastHit    string // layer that most recently raised the score
	details    map[string]interface{}
	res        *intel.Result
	country    string
	region     string
	geoChecked bool
}

func (ev *evaluation) raise(layer string, weight int) {
	if weight <= 0 {
		return
	}
	ev.score += weight
	if ev.score > maxScore {
		ev.score = maxScore
	}
	ev.lastHit = layer
}

func (ev *evaluation) crossed() bool { return ev.score >= ev.st.SafeModeThreshold }

// Decide runs the full layer pipeline and always returns a record; it never
// returns an error. One JSON cloak log is queued per call, decision traffic
// must keep flowing even when that write fails.
func (e *Engine) Decide(ctx context.Context, req Request, offer OfferContext) core.DecisionRecord {
	start := time.Now()
	st := e.settings.Current()

	ev := &evaluation{
		req:      req,
		offer:    offer,
		st:       st,
		tracking: ParseTracking(req.URL),
		details:  map[string]interface{}{},
	}
	ev.country, ev.region = headerGeo(req.Headers)

	var rec core.DecisionRecord
	if !offer.CloakEnabled {
		ev.details["cloakDisabled"] = true
		rec = core.DecisionRecord{Decision: core.DecisionMoney}
	} else {
		dctx, cancel := context.WithTimeout(ctx, time.Duration(st.DecisionTimeoutMs)*time.Millisecond)
		rec = e.run(dctx, ev)
		cancel()
	}

	rec.FraudScore = ev.score
	if len(ev.details) > 0 {
		rec.Details = ev.details
	}
	rec.TrackingParams = ev.tracking
	rec.ProcessingTimeMs = time.Since(start).Milliseconds()

	e.metrics.RecordDecision(rec.Decision, rec.BlockedAtLayer, rec.FraudScore, time.Since(start))
	e.appendLog(ev, rec)
	return rec
}

func (e *Engine) run(ctx context.Context, ev *evaluation) core.DecisionRecord {
	if rec, done := e.layerBlacklist(ctx, ev); done {
		return rec
	}
	if rec, done := e.layerIntel(ctx, ev); done {
		return rec
	}
	if rec, done := e.layerGeoTarget(ctx, ev); done {
		return rec
	}
	if rec, done := e.layerUAHeuristics(ctx, ev); done {
		return rec
	}
	if rec, done := e.layerReferer(ctx, ev); done {
		return rec
	}
	if ev.crossed() {
		return safeRecord(ev.lastHit, "score_threshold")
	}
	return core.DecisionRecord{Decision: core.DecisionMoney}
}

// layerBlacklist applies the materialized lists that need only request data:
// exact IPs, CIDR ranges and user-agent patterns, plus country rules when an
// edge header already placed the request.
func (e *Engine) layerBlacklist(ctx context.Context, ev *evaluation) (core.DecisionRecord, bool) {
	if err := ctx.Err(); err != nil {
		return e.failSafe(ev, err), true
	}
	scopes := scopesFor(ev.offer.UserID)

	if ev.st.EnableIPCheck {
		hit, value, err := e.ipListed(ctx, scopes, ev.req.IP)
		if err != nil {
			return e.failSafe(ev, err), true
		}
		if hit {
			return blockL1(ev, "ip", value), true
		}
	}
	if ev.st.EnableUACheck {
		hit, value, err := e.uaListed(ctx, scopes, ev.req.UserAgent)
		if err != nil {
			return e.failSafe(ev, err), true
		}
		if hit {
			return blockL1(ev, "ua", value), true
		}
	}
	if ev.st.EnableGeoCheck && ev.country != "" {
		if rec, done := e.applyGeoRules(ctx, ev, scopes); done {
			return rec, true
		}
		ev.geoChecked = true
	}
	return core.DecisionRecord{}, false
}

// layerIntel enriches the request with the provider verdict, finishes the
// blacklist checks that need intel data (ISP/ASN, country when no edge
// header) and scores the anonymity flags. Provider trouble degrades to a
// noted pass, only a burned deadline ends the decision here.
func (e *Engine) layerIntel(ctx context.Context, ev *evaluation) (core.DecisionRecord, bool) {
	if e.intel == nil {
		return core.DecisionRecord{}, false
	}
	if err := ctx.Err(); err != nil {
		return e.failSafe(ev, err), true
	}

	res, err := e.intel.Lookup(ctx, ev.req.IP)
	if err != nil {
		e.metrics.RecordIntel(intelOutcome(err))
		if ctx.Err() != nil {
			return e.failSafe(ev, ctx.Err()), true
		}
		ev.details["l2"] = map[string]interface{}{"error": err.Error()}
		return core.DecisionRecord{}, false
	}
	e.metrics.RecordIntel("ok")
	ev.res = res
	if ev.country == "" {
		ev.country = strings.ToUpper(res.Country)
		ev.region = strings.ToUpper(res.Region)
	}

	scopes := scopesFor(ev.offer.UserID)
	if ev.st.EnableIPCheck {
		hit, value, err := e.ispListed(ctx, scopes, res)
		if err != nil {
			return e.failSafe(ev, err), true
		}
		if hit {
			return blockL1(ev, "isp", value), true
		}
	}
	if ev.st.EnableGeoCheck && !ev.geoChecked && ev.country != "" {
		if rec, done := e.applyGeoRules(ctx, ev, scopes); done {
			return rec, true
		}
		ev.geoChecked = true
	}

	var flags []string
	flag := func(name string, weight int) {
		flags = append(flags, name)
		ev.raise(core.LayerIntel, weight)
	}
	if res.IsDatacenter {
		flag("datacenter", ev.st.WeightDatacenter)
	}
	if res.IsVPN {
		flag("vpn", ev.st.WeightVPN)
	}
	if res.IsProxy {
		flag("proxy", ev.st.WeightProxy)
	}
	if res.IsTor {
		flag("tor", ev.st.WeightTor)
	}
	if len(flags) > 0 {
		ev.details["l2"] = map[string]interface{}{"flags": flags, "asn": res.ASN, "isp": res.ISP}
		if ev.crossed() {
			return safeRecord(core.LayerIntel, "ip_intel_flags"), true
		}
	}
	return core.DecisionRecord{}, false
}

// layerGeoTarget enforces the offer's target-country allowlist. An empty
// list targets everywhere. A request whose country cannot be established
// does not see the money page of a targeted offer.
func (e *Engine) layerGeoTarget(ctx context.Context, ev *evaluation) (core.DecisionRecord, bool) {
	if err := ctx.Err(); err != nil {
		return e.failSafe(ev, err), true
	}
	if !ev.st.EnableGeoCheck || len(ev.offer.TargetCountries) == 0 {
		return core.DecisionRecord{}, false
	}
	for _, cc := range ev.offer.TargetCountries {
		if ev.country != "" && strings.EqualFold(cc, ev.country) {
			return core.DecisionRecord{}, false
		}
	}
	country := ev.country
	if country == "" {
		country = "unknown"
	}
	ev.details["l3"] = map[string]interface{}{"country": country}
	return safeRecord(core.LayerGeo, "geo_not_targeted"), true
}

// Substrings that mark a user agent as a crawler or an automation tool. Bare
// "bot" is deliberate: ad-review crawlers rotate names but keep the suffix.
var crawlerTokens = []string{
	"bot", "spider", "crawler", "slurp", "yandex", "baidu",
	"curl", "wget", "python-requests", "python-urllib", "go-http-client",
	"scrapy", "httpclient", "okhttp", "java/", "libwww",
	"facebookexternalhit", "google-ads", "adsbot", "mediapartners",
}

var headlessTokens = []string{
	"headlesschrome", "phantomjs", "puppeteer", "playwright",
	"selenium", "electron", "splash", "slimerjs",
}

// layerUAHeuristics scores soft user-agent signals: a missing UA, crawler
// tokens and headless-browser fingerprints each count once.
func (e *Engine) layerUAHeuristics(ctx context.Context, ev *evaluation) (core.DecisionRecord, bool) {
	if err := ctx.Err(); err != nil {
		return e.failSafe(ev, err), true
	}
	if !ev.st.EnableUACheck {
		return core.DecisionRecord{}, false
	}

	ua := strings.ToLower(strings.TrimSpace(ev.req.UserAgent))
	var signals []string
	hit := func(name string) {
		signals = append(signals, name)
		ev.raise(core.LayerUA, ev.st.WeightUASuspicious)
	}
	if ua == "" {
		hit("missing_ua")
	} else {
		if tok, ok := firstToken(ua, crawlerTokens); ok {
			hit("crawler:" + tok)
		}
		if tok, ok := firstToken(ua, headlessTokens); ok {
			hit("headless:" + tok)
		}
	}
	if len(signals) > 0 {
		ev.details["l4"] = map[string]interface{}{"signals": signals}
		if ev.crossed() {
			return safeRecord(core.LayerUA, "ua_suspicious"), true
		}
	}
	return core.DecisionRecord{}, false
}

// layerReferer applies the traffic-attribution policy. Ad click IDs vouch
// for the request outright. A referer from a moderation-tool host is
// definitive; an absent referer on unattributed traffic adds a soft score
// but passes on its own.
func (e *Engine) layerReferer(ctx context.Context, ev *evaluation) (core.DecisionRecord, bool) {
	if err := ctx.Err(); err != nil {
		return e.failSafe(ev, err), true
	}
	if !ev.st.EnableRefererCheck || ev.tracking.HasTrackingParams {
		return core.DecisionRecord{}, false
	}

	host := refererHost(ev.req.Referer)
	if host != "" {
		for _, m := range ev.st.ModerationRefererHosts {
			if host == m || strings.HasSuffix(host, "."+m) {
				ev.details["l5"] = map[string]interface{}{"refererHost": host}
				ev.raise(core.LayerReferer, maxScore)
				return safeRecord(core.LayerReferer, "moderation_referer"), true
			}
		}
		return core.DecisionRecord{}, false
	}

	ev.details["l5"] = map[string]interface{}{"noReferer": true}
	ev.raise(core.LayerReferer, ev.st.WeightNoReferer)
	if ev.crossed() {
		return safeRecord(core.LayerReferer, "no_referer"), true
	}
	return core.DecisionRecord{}, false
}

// ipListed checks the exact-IP sets, then the CIDR scalars. CIDR matching is
// IPv4-only, v6 requests bypass the range check.
func (e *Engine) ipListed(ctx context.Context, scopes []string, ip string) (bool, string, error) {
	for _, scope := range scopes {
		ok, err := e.fast.SIsMember(ctx, faststore.BlacklistIP(scope), ip)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return false, "", err
		}
		if ok {
			return true, ip, nil
		}
	}

	v4 := net.ParseIP(ip).To4()
	if v4 == nil {
		return false, "", nil
	}
	ipU32 := binary.BigEndian.Uint32(v4)
	for _, scope := range scopes {
		raw, err := e.fast.Get(ctx, faststore.BlacklistIPRanges(scope))
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, "", err
		}
		var cidrs []string
		if err := json.Unmarshal([]byte(raw), &cidrs); err != nil {
			e.logger.Warn("Malformed CIDR scalar", "scope", scope, "error", err)
			continue
		}
		for _, c := range cidrs {
			_, ipnet, err := net.ParseCIDR(c)
			if err != nil || ipnet.IP.To4() == nil || len(ipnet.Mask) != 4 {
				continue
			}
			network := binary.BigEndian.Uint32(ipnet.IP.To4())
			mask := binary.BigEndian.Uint32(ipnet.Mask)
			if ipU32&mask == network {
				return true, c, nil
			}
		}
	}
	return false, "", nil
}

type uaPattern struct {
	Pattern string `json:"pattern"`
	Type    string `json:"type"`
}

func (e *Engine) uaListed(ctx context.Context, scopes []string, ua string) (bool, string, error) {
	if ua == "" {
		return false, "", nil // scored by the heuristics layer instead
	}
	for _, scope := range scopes {
		records, err := e.fast.LRange(ctx, faststore.BlacklistUAs(scope), 0, -1)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return false, "", err
		}
		for _, raw := range records {
			var p uaPattern
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				e.logger.Warn("Malformed UA pattern record", "scope", scope, "error", err)
				continue
			}
			if e.matchUA(ua, p) {
				return true, p.Pattern, nil
			}
		}
	}
	return false, "", nil
}

func (e *Engine) matchUA(ua string, p uaPattern) bool {
	switch p.Type {
	case core.PatternExact:
		return ua == p.Pattern
	case core.PatternContains:
		return strings.Contains(strings.ToLower(ua), strings.ToLower(p.Pattern))
	case core.PatternRegex:
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			e.logger.Warn("Invalid UA regex in blacklist", "pattern", p.Pattern, "error", err)
			return false
		}
		return re.MatchString(ua)
	}
	return false
}

func (e *Engine) ispListed(ctx context.Context, scopes []string, res *intel.Result) (bool, string, error) {
	asn := core.NormalizeASN(res.ASN)
	for _, scope := range scopes {
		if asn != "" {
			ok, err := e.fast.SIsMember(ctx, faststore.BlacklistISPs(scope), asn)
			if err != nil && !errors.Is(err, core.ErrNotFound) {
				return false, "", err
			}
			if ok {
				return true, asn, nil
			}
		}
		if res.ISP == "" {
			continue
		}
		names, err := e.fast.HGetAll(ctx, faststore.BlacklistISPNames(scope))
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return false, "", err
		}
		ispLower := strings.ToLower(res.ISP)
		for needle, display := range names {
			if strings.Contains(ispLower, needle) {
				return true, display, nil
			}
		}
	}
	return false, "", nil
}

// applyGeoRules runs the country blacklist: block entries end the decision,
// high-risk entries add a weighted score and continue.
func (e *Engine) applyGeoRules(ctx context.Context, ev *evaluation, scopes []string) (core.DecisionRecord, bool) {
	blockType, value, err := e.geoListed(ctx, scopes, ev.country, ev.region)
	if err != nil {
		return e.failSafe(ev, err), true
	}
	switch blockType {
	case core.GeoBlock:
		return blockL1(ev, "geo", value), true
	case core.GeoHighRisk:
		l1Details(ev)["geoHighRisk"] = value
		ev.raise(core.LayerBlacklist, ev.st.WeightGeoHighRisk)
	}
	return core.DecisionRecord{}, false
}

// geoListed probes the geo hashes, most specific field first (CC:REGION,
// then CC), user scope before global.
func (e *Engine) geoListed(ctx context.Context, scopes []string, country, region string) (string, string, error) {
	fields := make([]string, 0, 2)
	if region != "" {
		fields = append(fields, country+":"+region)
	}
	fields = append(fields, country)
	for _, scope := range scopes {
		for _, f := range fields {
			bt, err := e.fast.HGet(ctx, faststore.BlacklistGeos(scope), f)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				return "", "", err
			}
			return bt, f, nil
		}
	}
	return "", "", nil
}

// appendLog queues one cloak log for async persistence. Runs on its own
// short context: timeout verdicts still log, and a fast-store outage here
// must never fail the decision.
func (e *Engine) appendLog(ev *evaluation, rec core.DecisionRecord) {
	entry := core.CloakLog{
		UserID:            ev.offer.UserID,
		OfferID:           ev.offer.OfferID,
		IPAddress:         ev.req.IP,
		UserAgent:         ev.req.UserAgent,
		Referer:           ev.req.Referer,
		RequestURL:        ev.req.URL,
		Decision:          rec.Decision,
		DecisionReason:    rec.Reason,
		FraudScore:        rec.FraudScore,
		BlockedAtLayer:    rec.BlockedAtLayer,
		DetectionDetails:  rec.Details,
		IPCountry:         ev.country,
		ProcessingTimeMs:  rec.ProcessingTimeMs,
		HasTrackingParams: ev.tracking.HasTrackingParams,
		GclID:             ev.tracking.GclID,
		CreatedAt:         time.Now().UTC(),
	}
	if ev.res != nil {
		entry.IPCity = ev.res.City
		entry.IPISP = ev.res.ISP
		entry.IPASN = ev.res.ASN
		entry.IsDatacenter = ev.res.IsDatacenter
		entry.IsVPN = ev.res.IsVPN
		entry.IsProxy = ev.res.IsProxy
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		e.logger.Warn("Cloak log encode failed", "offerId", ev.offer.OfferID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.fast.LPush(ctx, faststore.QueueCloakLogs, string(raw)); err != nil {
		e.logger.Warn("Cloak log enqueue failed", "offerId", ev.offer.OfferID, "error", err)
	}
}

// failSafe collapses an infrastructure failure into the safe verdict. The
// deadline firing is the expected flavor; anything else keeps its code as
// the reason for the log line.
func (e *Engine) failSafe(ev *evaluation, err error) core.DecisionRecord {
	reason := "deadline_exceeded"
	if !errors.Is(err, context.DeadlineExceeded) && core.CodeOf(err) != core.CodeTimeout {
		reason = core.CodeOf(err)
		e.logger.Warn("Decision degraded to safe", "offerId", ev.offer.OfferID, "error", err)
	}
	return safeRecord(core.LayerTimeout, reason)
}

func blockL1(ev *evaluation, blockedType, blockedValue string) core.DecisionRecord {
	d := l1Details(ev)
	d["blockedType"] = blockedType
	d["blockedValue"] = blockedValue
	ev.score = maxScore
	ev.lastHit = core.LayerBlacklist
	return safeRecord(core.LayerBlacklist, "blacklist_"+blockedType)
}

func l1Details(ev *evaluation) map[string]interface{} {
	if d, ok := ev.details["l1"].(map[string]interface{}); ok {
		return d
	}
	d := map[string]interface{}{}
	ev.details["l1"] = d
	return d
}

func safeRecord(layer, reason string) core.DecisionRecord {
	return core.DecisionRecord{Decision: core.DecisionSafe, BlockedAtLayer: layer, Reason: reason}
}

func scopesFor(userID int64) []string {
	return []string{core.UserScope(userID), core.ScopeGlobal}
}

func intelOutcome(err error) string {
	switch {
	case errors.Is(err, intel.ErrUnavailable):
		return "unavailable"
	case core.CodeOf(err) == core.CodeTimeout:
		return "timeout"
	default:
		return "error"
	}
}

func firstToken(haystack string, tokens []string) (string, bool) {
	for _, t := range tokens {
		if strings.Contains(haystack, t) {
			return t, true
		}
	}
	return "", false
}

func refererHost(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// headerGeo reads the country/region an edge proxy may have stamped on the
// request. "XX" is the providers' unknown marker.
func headerGeo(headers map[string]string) (string, string) {
	country := strings.ToUpper(getHeader(headers, "Cf-Ipcountry"))
	if country == "" {
		country = strings.ToUpper(getHeader(headers, "X-Geo-Country"))
	}
	if country == "XX" {
		country = ""
	}
	region := strings.ToUpper(getHeader(headers, "X-Geo-Region"))
	if region == "" {
		region = strings.ToUpper(getHeader(headers, "Cf-Region-Code"))
	}
	if country == "" {
		return "", ""
	}
	return country, region
}

func getHeader(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
