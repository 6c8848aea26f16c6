package threat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskwise/riskwise/internal/models"
)

type stubProvider struct {
	name    string
	hits    []models.ThreatSource
	panicky bool
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Lookup(_ context.Context, _ *models.Transaction, _ *models.ContextSignals) []models.ThreatSource {
	if s.panicky {
		panic("provider blew up")
	}
	return s.hits
}

func tx() *models.Transaction {
	return &models.Transaction{ID: "tx-1", DeviceID: "dev-1", MerchantID: "m-1", Country: "US"}
}

func TestManager_SingleSource(t *testing.T) {
	m := NewManager([]Provider{
		&stubProvider{name: "a", hits: []models.ThreatSource{{Name: "a:x", Confidence: 0.7}}},
	}, nil)

	result := m.Analyze(context.Background(), tx(), nil)
	assert.Equal(t, 0.7, result.Level)
	require.Len(t, result.Sources, 1)
}

func TestManager_CorroborationBoost(t *testing.T) {
	m := NewManager([]Provider{
		&stubProvider{name: "a", hits: []models.ThreatSource{{Name: "a:x", Confidence: 0.6}}},
		&stubProvider{name: "b", hits: []models.ThreatSource{{Name: "b:x", Confidence: 0.8}}},
		&stubProvider{name: "c", hits: []models.ThreatSource{{Name: "c:x", Confidence: 0.5}}},
	}, nil)

	// min(1, 0.8 + 0.1*2) = 1.0
	result := m.Analyze(context.Background(), tx(), nil)
	assert.Equal(t, 1.0, result.Level)
	assert.Len(t, result.Sources, 3)
}

func TestManager_NoFindings(t *testing.T) {
	m := NewManager([]Provider{&stubProvider{name: "a"}}, nil)

	result := m.Analyze(context.Background(), tx(), nil)
	assert.Equal(t, 0.0, result.Level)
	assert.Empty(t, result.Sources)
}

func TestManager_PanickingProviderIsolated(t *testing.T) {
	m := NewManager([]Provider{
		&stubProvider{name: "bad", panicky: true},
		&stubProvider{name: "good", hits: []models.ThreatSource{{Name: "good:x", Confidence: 0.4}}},
	}, nil)

	result := m.Analyze(context.Background(), tx(), nil)
	assert.Equal(t, 0.4, result.Level)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "good:x", result.Sources[0].Name)
}

func TestManager_DeterministicSourceOrder(t *testing.T) {
	m := NewManager([]Provider{
		&stubProvider{name: "first", hits: []models.ThreatSource{{Name: "first:x", Confidence: 0.2}}},
		&stubProvider{name: "second", hits: []models.ThreatSource{{Name: "second:x", Confidence: 0.3}}},
	}, nil)

	for i := 0; i < 10; i++ {
		result := m.Analyze(context.Background(), tx(), nil)
		require.Len(t, result.Sources, 2)
		assert.Equal(t, "first:x", result.Sources[0].Name)
		assert.Equal(t, "second:x", result.Sources[1].Name)
	}
}

func TestManager_ConfidenceClamped(t *testing.T) {
	m := NewManager([]Provider{
		&stubProvider{name: "a", hits: []models.ThreatSource{{Name: "a:x", Confidence: 1.7}}},
	}, nil)

	result := m.Analyze(context.Background(), tx(), nil)
	assert.Equal(t, 1.0, result.Level)
	assert.Equal(t, 1.0, result.Sources[0].Confidence)
}

func TestDenylistProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.SAdd("riskwise:denylist:devices", "dev-1")

	p := NewDenylistProvider(client, nil)
	hits := p.Lookup(context.Background(), tx(), nil)
	require.Len(t, hits, 1)
	assert.Equal(t, "denylist:device", hits[0].Name)
	assert.Equal(t, 0.95, hits[0].Confidence)
}

func TestDenylistProvider_RedisDownYieldsNothing(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})

	p := NewDenylistProvider(client, nil)
	hits := p.Lookup(context.Background(), tx(), nil)
	assert.Empty(t, hits)
}

func TestGeoRiskProvider(t *testing.T) {
	p := NewGeoRiskProvider(map[string]float64{"NG": 0.7})

	transaction := tx()
	transaction.Country = "NG"

	hits := p.Lookup(context.Background(), transaction, &models.ContextSignals{ForeignGeo: true})
	require.Len(t, hits, 1)
	assert.Equal(t, "geo_risk:NG", hits[0].Name)
	assert.InDelta(t, 0.8, hits[0].Confidence, 1e-9)

	transaction.Country = "US"
	assert.Empty(t, p.Lookup(context.Background(), transaction, nil))
}

func TestFeedProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev-1", r.URL.Query().Get("device"))
		_, _ = w.Write([]byte(`{"indicators":[{"name":"botnet_device","confidence":0.66}]}`))
	}))
	defer srv.Close()

	p := NewFeedProvider(srv.URL, "key", time.Second, nil)
	hits := p.Lookup(context.Background(), tx(), nil)
	require.Len(t, hits, 1)
	assert.Equal(t, "feed:botnet_device", hits[0].Name)
	assert.Equal(t, 0.66, hits[0].Confidence)
}

func TestFeedProvider_BadStatusYieldsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewFeedProvider(srv.URL, "", time.Second, nil)
	assert.Empty(t, p.Lookup(context.Background(), tx(), nil))
}
