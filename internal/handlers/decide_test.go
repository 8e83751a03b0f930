package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

func seedActiveOffer(fx *fixture) {
	fx.fs.offers[1] = &core.Offer{
		ID:           1,
		UserID:       7,
		BrandName:    "Acme",
		BrandURL:     "https://acme.example.com",
		Subdomain:    "glow",
		CloakEnabled: true,
		Status:       core.OfferActive,
	}
}

// visit sends a raw visitor request (absolute target sets the Host header)
// and decodes the decision record.
func visit(t *testing.T, fx *fixture, target string, hdr map[string]string) (*httptest.ResponseRecorder, core.DecisionRecord) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	var out core.DecisionRecord
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	}
	return rec, out
}

func TestDecideServesMoneyForCleanAdClick(t *testing.T) {
	fx := newFixture(t)
	seedActiveOffer(fx)

	rec, out := visit(t, fx, "http://glow.autoguard.app/lander?gclid=abc123", map[string]string{
		"User-Agent":      browserUA,
		"X-Forwarded-For": "198.51.100.7",
		"Referer":         "https://www.google.com/",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.DecisionMoney, rec.Header().Get("X-Decision"))
	assert.Equal(t, core.DecisionMoney, out.Decision)
	assert.Zero(t, out.FraudScore)
	assert.True(t, out.TrackingParams.HasTrackingParams)
	assert.Equal(t, "abc123", out.TrackingParams.GclID)

	// The verdict is buffered for the log flusher.
	n, err := fx.fast.LLen(context.Background(), faststore.QueueCloakLogs)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDecideBlacklistedIPServesSafe(t *testing.T) {
	fx := newFixture(t)
	seedActiveOffer(fx)
	require.NoError(t, fx.fast.SAdd(context.Background(),
		faststore.BlacklistIP(core.ScopeGlobal), "203.0.113.66"))

	rec, out := visit(t, fx, "http://glow.autoguard.app/lander?gclid=abc123", map[string]string{
		"User-Agent":      browserUA,
		"X-Forwarded-For": "203.0.113.66",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.DecisionSafe, rec.Header().Get("X-Decision"))
	assert.Equal(t, core.LayerBlacklist, out.BlockedAtLayer)
	assert.Equal(t, "blacklist_ip", out.Reason)
	assert.Equal(t, 100, out.FraudScore)
}

func TestDecidePausedOfferAlwaysSafe(t *testing.T) {
	fx := newFixture(t)
	seedActiveOffer(fx)
	fx.fs.offers[1].Status = core.OfferPaused

	rec, out := visit(t, fx, "http://glow.autoguard.app/lander?gclid=abc123", map[string]string{
		"User-Agent": browserUA,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.DecisionSafe, out.Decision)
	assert.Equal(t, "offer_paused", out.Reason)

	// Not a campaign visit, nothing buffered.
	n, err := fx.fast.LLen(context.Background(), faststore.QueueCloakLogs)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDecideUnknownHostNotFound(t *testing.T) {
	fx := newFixture(t)

	rec, _ := visit(t, fx, "http://nowhere.example.com/promo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, core.CodeNotFound, errorCode(t, rec))
}

func TestDecideDryRunOverrides(t *testing.T) {
	fx := newFixture(t)
	seedActiveOffer(fx)
	require.NoError(t, fx.fast.SAdd(context.Background(),
		faststore.BlacklistIP(core.ScopeGlobal), "203.0.113.66"))

	// Without an ip override the test peer address is clean.
	rec, out := visit(t, fx, "/d?host=glow.autoguard.app&gclid=x", map[string]string{
		"User-Agent": browserUA,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.DecisionMoney, out.Decision)

	// The ip override routes the dry run through the listed address.
	rec, out = visit(t, fx, "/d?host=glow.autoguard.app&ip=203.0.113.66", map[string]string{
		"User-Agent": browserUA,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.DecisionSafe, out.Decision)
	assert.Equal(t, core.LayerBlacklist, out.BlockedAtLayer)
}
