package domain

import "time"

type QualityTier string

const (
	QualityExcellent QualityTier = "excellent"
	QualityGood      QualityTier = "good"
	QualityFair      QualityTier = "fair"
	QualityPoor      QualityTier = "poor"
)

const (
	excellentBelowMS = 50
	goodBelowMS      = 150
	fairUpToMS       = 300
)

// ClassifyLatency maps a latency in milliseconds to its quality tier.
func ClassifyLatency(latencyMS int64) QualityTier {
	switch {
	case latencyMS < excellentBelowMS:
		return QualityExcellent
	case latencyMS < goodBelowMS:
		return QualityGood
	case latencyMS <= fairUpToMS:
		return QualityFair
	default:
		return QualityPoor
	}
}

// LatencySince computes server receive time minus the client timestamp.
// Clock skew can make this negative; it is clamped to zero.
func LatencySince(clientMillis int64, received time.Time) int64 {
	latency := received.UnixMilli() - clientMillis
	if latency < 0 {
		return 0
	}
	return latency
}

type HeartbeatResult struct {
	LatencyMS int64
	Quality   QualityTier
	// Changed is true when the tier differs from the previous heartbeat.
	Changed bool
}
