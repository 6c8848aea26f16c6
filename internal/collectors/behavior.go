package collectors

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/models"
)

// Component weights of the deviation score. They sum to 1.0.
const (
	weightAmountDeviation = 0.4
	weightTimeDeviation   = 0.2
	weightGeoDeviation    = 0.2
	weightDeviceDeviation = 0.2
)

// velocityScoreBonus is added to the deviation score when the velocity window
// trips, before the final clamp.
const velocityScoreBonus = 0.15

// BehaviorConfig tunes the behavioral deviation collector.
type BehaviorConfig struct {
	// VelocityWindow is the sliding window for transaction counting.
	VelocityWindow time.Duration
	// VelocityLimit is the count above which the velocity alert trips.
	VelocityLimit int64
}

// DefaultBehaviorConfig returns the default velocity window settings.
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		VelocityWindow: 10 * time.Minute,
		VelocityLimit:  5,
	}
}

// BehaviorAnalyzer scores how far a transaction deviates from the customer's
// historical baseline, with a Redis-backed velocity window.
type BehaviorAnalyzer struct {
	redis  *redis.Client
	config BehaviorConfig
	logger *logrus.Logger
}

// NewBehaviorAnalyzer creates a behavior analyzer. The Redis client may be nil,
// in which case velocity tracking is disabled.
func NewBehaviorAnalyzer(client *redis.Client, config BehaviorConfig, logger *logrus.Logger) *BehaviorAnalyzer {
	if logger == nil {
		logger = logrus.New()
	}
	if config.VelocityWindow <= 0 {
		config = DefaultBehaviorConfig()
	}
	return &BehaviorAnalyzer{redis: client, config: config, logger: logger}
}

// Collect implements the behavioral collector contract: a deviation score in
// [0,1], the list of observed anomalies, and the velocity alert flag.
func (a *BehaviorAnalyzer) Collect(ctx context.Context, tx *models.Transaction, profile *models.CustomerBehaviorProfile) (*models.BehavioralSignals, error) {
	signals := &models.BehavioralSignals{Anomalies: []string{}}

	amount := amountDeviation(tx.Amount, profile.AverageAmount)
	if amount >= 0.5 {
		signals.Anomalies = append(signals.Anomalies, "amount_deviation")
	}

	timeDev := 0.0
	if offHours(tx.Timestamp.Hour(), profile.UsualHourStart, profile.UsualHourEnd) {
		timeDev = 1.0
		signals.Anomalies = append(signals.Anomalies, "unusual_hour")
	}

	geoDev := 0.0
	if !profile.KnowsCountry(tx.Country) {
		geoDev = 1.0
		signals.Anomalies = append(signals.Anomalies, "unusual_country")
	}

	deviceDev := 0.0
	if tx.DeviceID == "" || !profile.KnowsDevice(tx.DeviceID) {
		deviceDev = 1.0
		signals.Anomalies = append(signals.Anomalies, "unusual_device")
	}

	score := weightAmountDeviation*amount +
		weightTimeDeviation*timeDev +
		weightGeoDeviation*geoDev +
		weightDeviceDeviation*deviceDev

	if a.velocityTripped(ctx, tx.CustomerID) {
		signals.VelocityAlert = true
		signals.Anomalies = append(signals.Anomalies, "high_velocity")
		score += velocityScoreBonus
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	signals.DeviationScore = score

	return signals, nil
}

// amountDeviation maps the distance from the customer's average amount onto
// [0,1], saturating at three times the average.
func amountDeviation(amount, average float64) float64 {
	if average <= 0 {
		return 0.5
	}
	dev := math.Abs(amount-average) / (3 * average)
	if dev > 1 {
		return 1
	}
	return dev
}

// velocityTripped counts the transaction into the customer's sliding window
// and reports whether the window limit is exceeded. Redis failures are logged
// and never trip the alert.
func (a *BehaviorAnalyzer) velocityTripped(ctx context.Context, customerID string) bool {
	if a.redis == nil || customerID == "" {
		return false
	}

	key := fmt.Sprintf("riskwise:velocity:%s", customerID)
	count, err := a.redis.Incr(ctx, key).Result()
	if err != nil {
		a.logger.WithError(err).Warn("velocity counter unavailable")
		return false
	}
	if count == 1 {
		if err := a.redis.Expire(ctx, key, a.config.VelocityWindow).Err(); err != nil {
			a.logger.WithError(err).Warn("velocity window expiry not set")
		}
	}
	return count > a.config.VelocityLimit
}
