package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/infra"
	"github.com/autoguard/backend/internal/intel"
)

func newTestFast(t *testing.T) faststore.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	fast, err := infra.NewGoRedisAdapter(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { fast.Close() })
	return fast
}

// scriptedIntel serves a canned verdict, or blocks until the decision
// deadline fires.
type scriptedIntel struct {
	res   *intel.Result
	err   error
	block bool
	calls int
}

func (f *scriptedIntel) Lookup(ctx context.Context, ip string) (*intel.Result, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, &core.Error{Code: core.CodeTimeout, Message: "ip intel timed out", Err: ctx.Err()}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := *f.res
	out.IP = ip
	return &out, nil
}

type staticSettings struct{ s core.Settings }

func (l staticSettings) LoadSettings(context.Context) (core.Settings, error) { return l.s, nil }

func newTestEngine(t *testing.T, st core.Settings, ic intel.Client) (*Engine, faststore.Client) {
	t.Helper()
	fast := newTestFast(t)
	sc := NewSettingsCache(staticSettings{st}, time.Minute, nil)
	require.NoError(t, sc.Refresh(context.Background()))
	return New(fast, ic, sc, nil, nil), fast
}

func testOffer() OfferContext {
	return OfferContext{OfferID: 42, UserID: 7, CloakEnabled: true}
}

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

func TestDecideCleanAdClick(t *testing.T) {
	ic := &scriptedIntel{res: &intel.Result{Country: "US"}}
	eng, fast := newTestEngine(t, core.DefaultSettings(), ic)

	offer := testOffer()
	offer.TargetCountries = []string{"US"}
	rec := eng.Decide(context.Background(), Request{
		IP:        "198.51.100.7",
		UserAgent: chromeUA,
		URL:       "https://glowbrand.autoguard.app/?gclid=abc123&utm_source=google",
	}, offer)

	assert.Equal(t, core.DecisionMoney, rec.Decision)
	assert.Zero(t, rec.FraudScore)
	assert.Empty(t, rec.BlockedAtLayer)
	assert.True(t, rec.TrackingParams.HasTrackingParams)
	assert.Equal(t, "abc123", rec.TrackingParams.GclID)

	// Exactly one cloak log queued, carrying the intel enrichment.
	entries, err := fast.LRange(context.Background(), faststore.QueueCloakLogs, 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	var logged core.CloakLog
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &logged))
	assert.Equal(t, int64(42), logged.OfferID)
	assert.Equal(t, int64(7), logged.UserID)
	assert.Equal(t, core.DecisionMoney, logged.Decision)
	assert.Equal(t, "US", logged.IPCountry)
	assert.True(t, logged.HasTrackingParams)
	assert.Equal(t, "abc123", logged.GclID)
	assert.False(t, logged.CreatedAt.IsZero())
}

func TestDecideGlobalIPHardBlock(t *testing.T) {
	eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
	ctx := context.Background()
	require.NoError(t, fast.SAdd(ctx, faststore.BlacklistIP("global"), "73.45.12.9"))

	rec := eng.Decide(ctx, Request{IP: "73.45.12.9", UserAgent: chromeUA}, testOffer())

	assert.Equal(t, core.DecisionSafe, rec.Decision)
	assert.Equal(t, core.LayerBlacklist, rec.BlockedAtLayer)
	assert.Equal(t, "blacklist_ip", rec.Reason)
	assert.Equal(t, maxScore, rec.FraudScore)
	l1 := rec.Details["l1"].(map[string]interface{})
	assert.Equal(t, "ip", l1["blockedType"])
	assert.Equal(t, "73.45.12.9", l1["blockedValue"])
}

func TestDecideUserScopeCIDR(t *testing.T) {
	eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
	ctx := context.Background()
	require.NoError(t, fast.Set(ctx, faststore.BlacklistIPRanges("user:7"), `["10.0.0.0/8"]`, 0))

	rec := eng.Decide(ctx, Request{IP: "10.1.2.3", UserAgent: chromeUA}, testOffer())

	assert.Equal(t, core.DecisionSafe, rec.Decision)
	assert.Equal(t, core.LayerBlacklist, rec.BlockedAtLayer)
	l1 := rec.Details["l1"].(map[string]interface{})
	assert.Equal(t, "ip", l1["blockedType"])
	assert.Equal(t, "10.0.0.0/8", l1["blockedValue"])
}

func TestDecideCIDRBoundaries(t *testing.T) {
	t.Run("slash32 matches only its host", func(t *testing.T) {
		eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
		ctx := context.Background()
		require.NoError(t, fast.Set(ctx, faststore.BlacklistIPRanges("global"), `["203.0.113.5/32"]`, 0))

		hit := eng.Decide(ctx, Request{IP: "203.0.113.5", UserAgent: chromeUA}, testOffer())
		assert.Equal(t, core.DecisionSafe, hit.Decision)

		miss := eng.Decide(ctx, Request{IP: "203.0.113.6", UserAgent: chromeUA, URL: "https://x.test/?gclid=g"}, testOffer())
		assert.Equal(t, core.DecisionMoney, miss.Decision)
	})

	t.Run("slash0 matches every v4 address", func(t *testing.T) {
		eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
		ctx := context.Background()
		require.NoError(t, fast.Set(ctx, faststore.BlacklistIPRanges("global"), `["0.0.0.0/0"]`, 0))

		rec := eng.Decide(ctx, Request{IP: "8.8.8.8", UserAgent: chromeUA}, testOffer())
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		assert.Equal(t, core.LayerBlacklist, rec.BlockedAtLayer)
	})
}

func TestDecideIPv6(t *testing.T) {
	eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
	ctx := context.Background()
	require.NoError(t, fast.SAdd(ctx, faststore.BlacklistIP("global"), "2001:db8::1"))
	require.NoError(t, fast.Set(ctx, faststore.BlacklistIPRanges("global"), `["0.0.0.0/0"]`, 0))

	// Exact v6 entries match as strings.
	rec := eng.Decide(ctx, Request{IP: "2001:db8::1", UserAgent: chromeUA}, testOffer())
	assert.Equal(t, core.DecisionSafe, rec.Decision)

	// The range check is v4-only, so the catch-all CIDR does not apply.
	rec = eng.Decide(ctx, Request{IP: "2001:db8::2", UserAgent: chromeUA, URL: "https://x.test/?gclid=g"}, testOffer())
	assert.Equal(t, core.DecisionMoney, rec.Decision)
}

func TestDecideUAPatternTypes(t *testing.T) {
	seed := func(t *testing.T, fast faststore.Client, records ...string) {
		t.Helper()
		for _, r := range records {
			require.NoError(t, fast.LPush(context.Background(), faststore.BlacklistUAs("global"), r))
		}
	}

	t.Run("exact is byte equality", func(t *testing.T) {
		eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
		seed(t, fast, `{"pattern":"BadBot/1.0","type":"exact"}`)

		hit := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: "BadBot/1.0"}, testOffer())
		assert.Equal(t, core.DecisionSafe, hit.Decision)
		assert.Equal(t, "blacklist_ua", hit.Reason)

		// Different case misses the exact entry; the heuristics layer still
		// scores the bot token, but not enough to cross the threshold.
		miss := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: "badbot/1.0"}, testOffer())
		assert.Equal(t, core.DecisionMoney, miss.Decision)
		assert.Equal(t, 40, miss.FraudScore) // crawler token + missing referer
	})

	t.Run("contains is case insensitive", func(t *testing.T) {
		eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
		seed(t, fast, `{"pattern":"curl","type":"contains"}`)

		rec := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: "CURL/8.0.1"}, testOffer())
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		l1 := rec.Details["l1"].(map[string]interface{})
		assert.Equal(t, "curl", l1["blockedValue"])
	})

	t.Run("regex matches case insensitively", func(t *testing.T) {
		eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
		seed(t, fast, `{"pattern":"^mozilla.*headless","type":"regex"}`)

		rec := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: "Mozilla/5.0 (X11; Linux) HeadlessChrome/119.0"}, testOffer())
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		assert.Equal(t, core.LayerBlacklist, rec.BlockedAtLayer)
	})

	t.Run("malformed regex is skipped, later entries still apply", func(t *testing.T) {
		eng, fast := newTestEngine(t, core.DefaultSettings(), nil)
		seed(t, fast,
			`{"pattern":"([","type":"regex"}`,
			`{"pattern":"curl","type":"contains"}`,
		)

		rec := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: "curl/8.5.0"}, testOffer())
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		l1 := rec.Details["l1"].(map[string]interface{})
		assert.Equal(t, "curl", l1["blockedValue"])
	})
}

func TestDecideISPBlacklist(t *testing.T) {
	t.Run("asn set membership", func(t *testing.T) {
		ic := &scriptedIntel{res: &intel.Result{Country: "US", ASN: "AS15169", ISP: "Google LLC"}}
		eng, fast := newTestEngine(t, core.DefaultSettings(), ic)
		require.NoError(t, fast.SAdd(context.Background(), faststore.BlacklistISPs("global"), "AS15169"))

		rec := eng.Decide(context.Background(), Request{IP: "8.8.8.8", UserAgent: chromeUA}, testOffer())
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		assert.Equal(t, core.LayerBlacklist, rec.BlockedAtLayer)
		l1 := rec.Details["l1"].(map[string]interface{})
		assert.Equal(t, "isp", l1["blockedType"])
		assert.Equal(t, "AS15169", l1["blockedValue"])
	})

	t.Run("name substring when asn is not listed", func(t *testing.T) {
		ic := &scriptedIntel{res: &intel.Result{Country: "US", ASN: "AS14061", ISP: "DigitalOcean, LLC"}}
		eng, fast := newTestEngine(t, core.DefaultSettings(), ic)
		require.NoError(t, fast.HSet(context.Background(), faststore.BlacklistISPNames("global"),
			map[string]string{"digitalocean": "DigitalOcean"}))

		rec := eng.Decide(context.Background(), Request{IP: "203.0.113.80", UserAgent: chromeUA}, testOffer())
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		l1 := rec.Details["l1"].(map[string]interface{})
		assert.Equal(t, "isp", l1["blockedType"])
		assert.Equal(t, "DigitalOcean", l1["blockedValue"])
	})
}

func TestDecideGeoBlacklist(t *testing.T) {
	t.Run("block entry ends the decision", func(t *testing.T) {
		ic := &scriptedIntel{res: &intel.Result{Country: "RU"}}
		eng, fast := newTestEngine(t, core.DefaultSettings(), ic)
		require.NoError(t, fast.HSet(context.Background(), faststore.BlacklistGeos("global"),
			map[string]string{"RU": core.GeoBlock}))

		rec := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: chromeUA}, testOffer())
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		assert.Equal(t, core.LayerBlacklist, rec.BlockedAtLayer)
		assert.Equal(t, "blacklist_geo", rec.Reason)
		l1 := rec.Details["l1"].(map[string]interface{})
		assert.Equal(t, "RU", l1["blockedValue"])
	})

	t.Run("high risk adds weight without short-circuiting", func(t *testing.T) {
		ic := &scriptedIntel{res: &intel.Result{Country: "TR", IsDatacenter: true}}
		eng, fast := newTestEngine(t, core.DefaultSettings(), ic)
		require.NoError(t, fast.HSet(context.Background(), faststore.BlacklistGeos("global"),
			map[string]string{"TR": core.GeoHighRisk}))

		// 30 (high risk) + 25 (datacenter) crosses the default threshold at
		// the intel layer, which gets the attribution.
		rec := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: chromeUA}, testOffer())
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		assert.Equal(t, core.LayerIntel, rec.BlockedAtLayer)
		assert.Equal(t, "ip_intel_flags", rec.Reason)
		assert.Equal(t, 55, rec.FraudScore)
		l1 := rec.Details["l1"].(map[string]interface{})
		assert.Equal(t, "TR", l1["geoHighRisk"])
	})
}

func TestDecideGeoTargeting(t *testing.T) {
	t.Run("edge header places the request without intel", func(t *testing.T) {
		eng, _ := newTestEngine(t, core.DefaultSettings(), nil)
		offer := testOffer()
		offer.TargetCountries = []string{"US"}

		rec := eng.Decide(context.Background(), Request{
			IP:        "198.51.100.7",
			UserAgent: chromeUA,
			Headers:   map[string]string{"cf-ipcountry": "DE"},
		}, offer)

		assert.Equal(t, core.DecisionSafe, rec.Decision)
		assert.Equal(t, core.LayerGeo, rec.BlockedAtLayer)
		assert.Equal(t, "geo_not_targeted", rec.Reason)
		l3 := rec.Details["l3"].(map[string]interface{})
		assert.Equal(t, "DE", l3["country"])
	})

	t.Run("unknown country does not see a targeted offer", func(t *testing.T) {
		eng, _ := newTestEngine(t, core.DefaultSettings(), nil)
		offer := testOffer()
		offer.TargetCountries = []string{"US"}

		rec := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: chromeUA}, offer)
		assert.Equal(t, core.DecisionSafe, rec.Decision)
		assert.Equal(t, core.LayerGeo, rec.BlockedAtLayer)
		l3 := rec.Details["l3"].(map[string]interface{})
		assert.Equal(t, "unknown", l3["country"])
	})

	t.Run("empty target list allows every country", func(t *testing.T) {
		eng, _ := newTestEngine(t, core.DefaultSettings(), nil)

		rec := eng.Decide(context.Background(), Request{
			IP:        "198.51.100.7",
			UserAgent: chromeUA,
			Referer:   "https://news.example.com/article",
			Headers:   map[string]string{"Cf-Ipcountry": "BR"},
		}, testOffer())
		assert.Equal(t, core.DecisionMoney, rec.Decision)
		assert.Zero(t, rec.FraudScore)
	})
}

func TestDecideIntelDeadline(t *testing.T) {
	st := core.DefaultSettings()
	st.DecisionTimeoutMs = 20
	ic := &scriptedIntel{block: true}
	eng, _ := newTestEngine(t, st, ic)

	rec := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: chromeUA}, testOffer())

	assert.Equal(t, core.DecisionSafe, rec.Decision)
	assert.Equal(t, core.LayerTimeout, rec.BlockedAtLayer)
	assert.Equal(t, "deadline_exceeded", rec.Reason)
	assert.Equal(t, 1, ic.calls)
	assert.GreaterOrEqual(t, rec.ProcessingTimeMs, int64(20))
}

func TestDecideIntelErrorDegrades(t *testing.T) {
	ic := &scriptedIntel{err: core.Transientf(errors.New("boom"), "ip intel returned HTTP 502")}
	eng, _ := newTestEngine(t, core.DefaultSettings(), ic)

	rec := eng.Decide(context.Background(), Request{
		IP:        "198.51.100.7",
		UserAgent: chromeUA,
		URL:       "https://glowbrand.autoguard.app/?gclid=abc",
	}, testOffer())

	assert.Equal(t, core.DecisionMoney, rec.Decision)
	l2 := rec.Details["l2"].(map[string]interface{})
	assert.Contains(t, l2["error"], "ip intel returned HTTP 502")
}

func TestDecideModerationReferer(t *testing.T) {
	eng, _ := newTestEngine(t, core.DefaultSettings(), nil)

	rec := eng.Decide(context.Background(), Request{
		IP:        "198.51.100.7",
		UserAgent: chromeUA,
		Referer:   "https://www.adspy.com/offers/123",
	}, testOffer())

	assert.Equal(t, core.DecisionSafe, rec.Decision)
	assert.Equal(t, core.LayerReferer, rec.BlockedAtLayer)
	assert.Equal(t, "moderation_referer", rec.Reason)
	assert.Equal(t, maxScore, rec.FraudScore)
}

func TestDecideScoreAtThresholdIsSafe(t *testing.T) {
	st := core.DefaultSettings()
	st.WeightDatacenter = 30 // 30 + 20 (no referer) lands exactly on 50
	ic := &scriptedIntel{res: &intel.Result{Country: "US", IsDatacenter: true}}
	eng, _ := newTestEngine(t, st, ic)

	rec := eng.Decide(context.Background(), Request{IP: "198.51.100.7", UserAgent: chromeUA}, testOffer())

	assert.Equal(t, core.DecisionSafe, rec.Decision)
	assert.Equal(t, st.SafeModeThreshold, rec.FraudScore)
	assert.Equal(t, core.LayerReferer, rec.BlockedAtLayer)
	assert.Equal(t, "no_referer", rec.Reason)
}

func TestDecideFinalCheckAttributesLastContributor(t *testing.T) {
	st := core.DefaultSettings()
	st.WeightGeoHighRisk = 60
	ic := &scriptedIntel{res: &intel.Result{Country: "TR"}}
	eng, fast := newTestEngine(t, st, ic)
	require.NoError(t, fast.HSet(context.Background(), faststore.BlacklistGeos("global"),
		map[string]string{"TR": core.GeoHighRisk}))

	// No layer short-circuits: the high-risk weight is applied inside the
	// blacklist logic, the referer is ordinary, so the final threshold check
	// fires and attributes the layer that last raised the score.
	rec := eng.Decide(context.Background(), Request{
		IP:        "198.51.100.7",
		UserAgent: chromeUA,
		Referer:   "https://news.example.com/story",
	}, testOffer())

	assert.Equal(t, core.DecisionSafe, rec.Decision)
	assert.Equal(t, core.LayerBlacklist, rec.BlockedAtLayer)
	assert.Equal(t, "score_threshold", rec.Reason)
	assert.Equal(t, 60, rec.FraudScore)
}

func TestDecideCloakDisabledFastPath(t *testing.T) {
	ic := &scriptedIntel{res: &intel.Result{Country: "US"}}
	eng, fast := newTestEngine(t, core.DefaultSettings(), ic)
	require.NoError(t, fast.SAdd(context.Background(), faststore.BlacklistIP("global"), "73.45.12.9"))

	offer := testOffer()
	offer.CloakEnabled = false
	rec := eng.Decide(context.Background(), Request{
		IP:        "73.45.12.9", // listed, but the pipeline never runs
		UserAgent: "curl/8.5.0",
		URL:       "https://glowbrand.autoguard.app/?gclid=xyz",
	}, offer)

	assert.Equal(t, core.DecisionMoney, rec.Decision)
	assert.Equal(t, true, rec.Details["cloakDisabled"])
	assert.Equal(t, "xyz", rec.TrackingParams.GclID)
	assert.Zero(t, ic.calls)

	entries, err := fast.LRange(context.Background(), faststore.QueueCloakLogs, 0, -1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDecideLayerGates(t *testing.T) {
	st := core.DefaultSettings()
	st.EnableIPCheck = false
	st.EnableUACheck = false
	st.EnableGeoCheck = false
	st.EnableRefererCheck = false
	ic := &scriptedIntel{res: &intel.Result{Country: "RU", IsDatacenter: true}}
	eng, fast := newTestEngine(t, st, ic)
	ctx := context.Background()
	require.NoError(t, fast.SAdd(ctx, faststore.BlacklistIP("global"), "73.45.12.9"))
	require.NoError(t, fast.HSet(ctx, faststore.BlacklistGeos("global"), map[string]string{"RU": core.GeoBlock}))

	// Only the always-on intel scoring applies: 25 for the datacenter flag.
	rec := eng.Decide(ctx, Request{IP: "73.45.12.9", UserAgent: "curl/8.5.0"}, testOffer())

	assert.Equal(t, core.DecisionMoney, rec.Decision)
	assert.Equal(t, 25, rec.FraudScore)
	assert.NotContains(t, rec.Details, "l1")
	assert.NotContains(t, rec.Details, "l4")
}
