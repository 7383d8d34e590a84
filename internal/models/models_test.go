package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationSnapshotRedacted(t *testing.T) {
	s := LocationSnapshot{Consent: ConsentPrecise, AdminArea: "NSW", Postcode: "2000", CountryCode: "AU"}
	assert.Equal(t, s, s.Redacted())

	s.Consent = ConsentNone
	r := s.Redacted()
	assert.Equal(t, ConsentNone, r.Consent)
	assert.False(t, r.HasGranularFields())

	// a zero-value snapshot has no consent and must not leak fields
	leaky := LocationSnapshot{Locality: "Sydney"}
	assert.False(t, leaky.Redacted().HasGranularFields())
}

func TestLocationSnapshotWithPlacemark(t *testing.T) {
	p := Placemark{AdminArea: "Victoria", Postcode: "3000", CountryCode: "AU", Locality: "Melbourne"}

	general := LocationSnapshot{Consent: ConsentGeneral}.WithPlacemark(p)
	assert.Equal(t, "Victoria", general.AdminArea)
	assert.Equal(t, "Melbourne", general.Locality)

	none := LocationSnapshot{Consent: ConsentNone}.WithPlacemark(p)
	assert.False(t, none.HasGranularFields())
}

func TestMetricJSONFieldNames(t *testing.T) {
	m := Metric{
		MetricType:   MetricLoadSuccess,
		AppID:        "app",
		SessionID:    "s1",
		CampaignID:   "camp123",
		CPM:          2.5,
		LocationData: LocationSnapshot{Consent: ConsentGeneral, CountryCode: "AU"},
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "AD_LOAD_SUCCESS", raw["metric_type"])
	assert.Equal(t, "camp123", raw["campaign_id"])
	assert.Equal(t, 2.5, raw["cpm"])
	loc, ok := raw["location_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "GENERAL", loc["consent"])
	assert.Equal(t, "AU", loc["country_code"])
}

func TestSendsImmediately(t *testing.T) {
	assert.True(t, MetricLoadRequest.SendsImmediately())
	assert.True(t, MetricClose.SendsImmediately())
	assert.False(t, MetricAssetsLoaded.SendsImmediately())
	assert.False(t, MetricClicked.SendsImmediately())
}

func TestParseAdKind(t *testing.T) {
	k, err := ParseAdKind("rewarded")
	require.NoError(t, err)
	assert.False(t, k.IsInterstitial())

	_, err = ParseAdKind("banner")
	assert.Error(t, err)
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "unknown", DeviceString(""))
	iphone := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"
	assert.Contains(t, DeviceString(iphone), "iOS")
	android := "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	assert.Contains(t, DeviceString(android), "Android")
}
