package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleValidatePerFamily(t *testing.T) {
	valid := []Rule{
		{Family: FamilyIP, IPAddress: "203.0.113.9"},
		{Family: FamilyIPRange, CIDR: "10.0.0.0/8"},
		{Family: FamilyUA, Pattern: "HeadlessChrome", PatternType: PatternContains},
		{Family: FamilyUA, Pattern: `bot|crawler`, PatternType: PatternRegex},
		{Family: FamilyISP, ASN: "12345"},
		{Family: FamilyISP, ISPName: "Shady Hosting LLC"},
		{Family: FamilyGeo, CountryCode: "RU", BlockType: GeoBlock},
		{Family: FamilyGeo, CountryCode: "VN", BlockType: GeoHighRisk},
	}
	for _, r := range valid {
		require.NoError(t, r.Validate(), "family %s should validate", r.Family)
	}

	invalid := []Rule{
		{Family: FamilyIP, IPAddress: "300.1.2.3"},
		{Family: FamilyIPRange, CIDR: "10.0.0.0"},
		{Family: FamilyUA, Pattern: "   ", PatternType: PatternContains},
		{Family: FamilyUA, Pattern: "([", PatternType: PatternRegex},
		{Family: FamilyUA, Pattern: "x", PatternType: "glob"},
		{Family: FamilyISP},
		{Family: FamilyGeo, CountryCode: "RUS", BlockType: GeoBlock},
		{Family: FamilyGeo, CountryCode: "RU", BlockType: "maybe"},
		{Family: "dns"},
	}
	for _, r := range invalid {
		err := r.Validate()
		require.Error(t, err, "family %s value should be rejected", r.Family)
		assert.Equal(t, CodeValidation, CodeOf(err))
	}
}

func TestRuleScope(t *testing.T) {
	assert.Equal(t, ScopeGlobal, (&Rule{}).Scope())
	assert.Equal(t, "user:7", (&Rule{UserID: 7}).Scope())
	assert.Equal(t, "user:7", UserScope(7))
}

func TestNormalizeASN(t *testing.T) {
	assert.Equal(t, "AS13335", NormalizeASN("13335"))
	assert.Equal(t, "AS13335", NormalizeASN("as13335"))
	assert.Equal(t, "AS13335", NormalizeASN("  AS13335  "))
	assert.Equal(t, "", NormalizeASN("   "))
}
