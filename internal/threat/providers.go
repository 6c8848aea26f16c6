package threat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/models"
)

// DenylistProvider checks devices and merchants against Redis denylist sets
// maintained by the fraud operations team.
type DenylistProvider struct {
	client    *redis.Client
	deviceKey string
	merchKey  string
	logger    *logrus.Logger
}

// NewDenylistProvider creates a Redis-backed denylist provider.
func NewDenylistProvider(client *redis.Client, logger *logrus.Logger) *DenylistProvider {
	if logger == nil {
		logger = logrus.New()
	}
	return &DenylistProvider{
		client:    client,
		deviceKey: "riskwise:denylist:devices",
		merchKey:  "riskwise:denylist:merchants",
		logger:    logger,
	}
}

// Name implements the Provider interface.
func (p *DenylistProvider) Name() string { return "internal_denylist" }

// Lookup implements the Provider interface. Redis errors are logged and
// reported as no findings.
func (p *DenylistProvider) Lookup(ctx context.Context, tx *models.Transaction, _ *models.ContextSignals) []models.ThreatSource {
	var sources []models.ThreatSource

	if tx.DeviceID != "" {
		listed, err := p.client.SIsMember(ctx, p.deviceKey, tx.DeviceID).Result()
		if err != nil {
			p.logger.WithError(err).Warn("denylist device lookup failed")
		} else if listed {
			sources = append(sources, models.ThreatSource{Name: "denylist:device", Confidence: 0.95})
		}
	}

	if tx.MerchantID != "" {
		listed, err := p.client.SIsMember(ctx, p.merchKey, tx.MerchantID).Result()
		if err != nil {
			p.logger.WithError(err).Warn("denylist merchant lookup failed")
		} else if listed {
			sources = append(sources, models.ThreatSource{Name: "denylist:merchant", Confidence: 0.85})
		}
	}

	return sources
}

// GeoRiskProvider scores transactions from countries with documented fraud
// exposure. The table is static and refreshed with deployments.
type GeoRiskProvider struct {
	countries map[string]float64
}

// NewGeoRiskProvider creates a geo-risk provider. A nil table selects the
// built-in default.
func NewGeoRiskProvider(countries map[string]float64) *GeoRiskProvider {
	if countries == nil {
		countries = map[string]float64{
			"NG": 0.7,
			"RO": 0.6,
			"VN": 0.55,
			"PK": 0.6,
			"UA": 0.5,
		}
	}
	return &GeoRiskProvider{countries: countries}
}

// Name implements the Provider interface.
func (p *GeoRiskProvider) Name() string { return "geo_risk" }

// Lookup implements the Provider interface.
func (p *GeoRiskProvider) Lookup(_ context.Context, tx *models.Transaction, signals *models.ContextSignals) []models.ThreatSource {
	conf, ok := p.countries[tx.Country]
	if !ok {
		return nil
	}
	// A country unusual for this customer is a stronger signal than the
	// country's base rate alone.
	if signals != nil && signals.ForeignGeo {
		conf += 0.1
		if conf > 1 {
			conf = 1
		}
	}
	return []models.ThreatSource{{Name: "geo_risk:" + tx.Country, Confidence: conf}}
}

// FeedProvider queries an external HTTP threat intelligence feed.
type FeedProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewFeedProvider creates a provider for an external threat feed endpoint.
func NewFeedProvider(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) *FeedProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FeedProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Name implements the Provider interface.
func (p *FeedProvider) Name() string { return "external_feed" }

type feedResponse struct {
	Indicators []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"indicators"`
}

// Lookup implements the Provider interface. Any transport or decoding failure
// is logged and reported as no findings.
func (p *FeedProvider) Lookup(ctx context.Context, tx *models.Transaction, _ *models.ContextSignals) []models.ThreatSource {
	endpoint := fmt.Sprintf("%s/v1/indicators?device=%s&merchant=%s&country=%s",
		p.baseURL, url.QueryEscape(tx.DeviceID), url.QueryEscape(tx.MerchantID), url.QueryEscape(tx.Country))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		p.logger.WithError(err).Warn("threat feed request build failed")
		return nil
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.WithError(err).Warn("threat feed lookup failed")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		p.logger.WithField("status", resp.StatusCode).Warn("threat feed returned non-OK status")
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.WithError(err).Warn("threat feed read failed")
		return nil
	}

	var parsed feedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.logger.WithError(err).Warn("threat feed decode failed")
		return nil
	}

	sources := make([]models.ThreatSource, 0, len(parsed.Indicators))
	for _, ind := range parsed.Indicators {
		sources = append(sources, models.ThreatSource{
			Name:       "feed:" + ind.Name,
			Confidence: ind.Confidence,
		})
	}
	return sources
}
