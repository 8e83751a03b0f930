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

func TestCreateRulePushesDelta(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var rule core.Rule
	rec := fx.do(t, http.MethodPost, "/api/v1/blacklist/rules",
		map[string]interface{}{"family": "ip", "ip_address": "203.0.113.9"}, &rule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotZero(t, rule.ID)
	assert.True(t, rule.IsActive)
	assert.Equal(t, "manual", rule.Source)

	// The engine sees the rule before the next full materialization.
	hit, err := fx.fast.SIsMember(ctx, faststore.BlacklistIP(core.ScopeGlobal), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, hit)
	reg, err := fx.fast.SIsMember(ctx, faststore.BlacklistScopes(core.FamilyIP), core.ScopeGlobal)
	require.NoError(t, err)
	assert.True(t, reg)
}

func TestCreateRuleDefaultsGeoBlockType(t *testing.T) {
	fx := newFixture(t)

	var rule core.Rule
	rec := fx.do(t, http.MethodPost, "/api/v1/blacklist/rules",
		map[string]interface{}{"family": "geo", "user_id": 7, "country_code": "RU"}, &rule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, core.GeoBlock, rule.BlockType)

	bt, err := fx.fast.HGet(context.Background(),
		faststore.BlacklistGeos(core.UserScope(7)), "RU")
	require.NoError(t, err)
	assert.Equal(t, core.GeoBlock, bt)
}

func TestCreateRuleRejectsMalformedPayloads(t *testing.T) {
	fx := newFixture(t)

	for name, body := range map[string]map[string]interface{}{
		"bad ip":         {"family": "ip", "ip_address": "not-an-ip"},
		"bad family":     {"family": "wat"},
		"bad regex":      {"family": "ua", "pattern": "([", "pattern_type": "regex"},
		"bad geo":        {"family": "geo", "country_code": "RUS"},
		"empty isp rule": {"family": "isp"},
	} {
		rec := fx.do(t, http.MethodPost, "/api/v1/blacklist/rules", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, core.CodeValidation, errorCode(t, rec), name)
	}
}

func TestDeleteRuleRetractsDelta(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var rule core.Rule
	fx.do(t, http.MethodPost, "/api/v1/blacklist/rules",
		map[string]interface{}{"family": "ip", "ip_address": "203.0.113.9"}, &rule)

	path := fmt.Sprintf("/api/v1/blacklist/rules/ip/%d", rule.ID)
	rec := fx.do(t, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	hit, err := fx.fast.SIsMember(ctx, faststore.BlacklistIP(core.ScopeGlobal), "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, hit)

	// Already gone.
	rec = fx.do(t, http.MethodDelete, path, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRulesFilterByFamily(t *testing.T) {
	fx := newFixture(t)

	fx.do(t, http.MethodPost, "/api/v1/blacklist/rules",
		map[string]interface{}{"family": "ip", "ip_address": "203.0.113.9"}, nil)
	fx.do(t, http.MethodPost, "/api/v1/blacklist/rules",
		map[string]interface{}{"family": "ua", "pattern": "badbot", "pattern_type": "contains"}, nil)

	var rules []core.Rule
	rec := fx.do(t, http.MethodGet, "/api/v1/blacklist/rules?family=ip", nil, &rules)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rules, 1)
	assert.Equal(t, "203.0.113.9", rules[0].IPAddress)

	rec = fx.do(t, http.MethodGet, "/api/v1/blacklist/rules", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaterializeAndCounts(t *testing.T) {
	fx := newFixture(t)

	fx.do(t, http.MethodPost, "/api/v1/blacklist/rules",
		map[string]interface{}{"family": "ip", "ip_address": "203.0.113.9"}, nil)
	fx.do(t, http.MethodPost, "/api/v1/blacklist/rules",
		map[string]interface{}{"family": "iprange", "cidr": "10.0.0.0/8"}, nil)

	var out struct {
		Families map[string]int `json:"families"`
		Total    int            `json:"total"`
	}
	rec := fx.do(t, http.MethodPost, "/api/v1/blacklist/materialize", nil, &out)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, out.Families[core.FamilyIP])
	assert.Equal(t, 1, out.Families[core.FamilyIPRange])
	assert.Equal(t, 2, out.Total)

	var counts map[string]int64
	rec = fx.do(t, http.MethodGet, "/api/v1/blacklist/counts", nil, &counts)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, counts[core.FamilyIP])
	assert.EqualValues(t, 1, counts[core.FamilyIPRange])
}
