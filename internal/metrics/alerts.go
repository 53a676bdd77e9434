package metrics

import (
	"fmt"
	"time"

	"github.com/vaultcache/vaultcache/internal/cache"
)

// AlertType classifies a threshold alert.
type AlertType int

const (
	AlertHitRateLow AlertType = iota
	AlertMemoryHigh
	AlertPressureCritical
)

// String returns the string representation of the alert type.
func (t AlertType) String() string {
	switch t {
	case AlertHitRateLow:
		return "hit_rate_low"
	case AlertMemoryHigh:
		return "memory_high"
	case AlertPressureCritical:
		return "pressure_critical"
	default:
		return "unknown"
	}
}

// Alert records one threshold crossing.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// AlertConfig holds the alert thresholds.
type AlertConfig struct {
	// HitRateFloor raises an alert when the hit rate drops below it, once
	// enough requests have been observed.
	HitRateFloor float64 `yaml:"hit_rate_floor"`

	// MinRequests gates the hit-rate rule until the sample is meaningful.
	MinRequests uint64 `yaml:"min_requests"`

	// MemoryCeiling is a usage ratio above which an alert is raised.
	MemoryCeiling float64 `yaml:"memory_ceiling"`
}

// DefaultAlertConfig returns the default thresholds.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		HitRateFloor:  0.25,
		MinRequests:   100,
		MemoryCeiling: 0.90,
	}
}

// evaluateAlerts applies the alert rules to one snapshot.
func (c *Collector) evaluateAlerts(stats cache.Stats) {
	rules := c.config.Alerts

	if rules.HitRateFloor > 0 && stats.Hits+stats.Misses >= rules.MinRequests && stats.HitRate < rules.HitRateFloor {
		c.raiseAlert(Alert{
			Type:      AlertHitRateLow,
			Message:   fmt.Sprintf("hit rate %.2f below floor %.2f", stats.HitRate, rules.HitRateFloor),
			Value:     stats.HitRate,
			Threshold: rules.HitRateFloor,
		})
	}

	if rules.MemoryCeiling > 0 && stats.MaxMemory > 0 {
		ratio := float64(stats.MemoryUsage) / float64(stats.MaxMemory)
		if ratio > rules.MemoryCeiling {
			c.raiseAlert(Alert{
				Type:      AlertMemoryHigh,
				Message:   fmt.Sprintf("memory usage ratio %.2f above ceiling %.2f", ratio, rules.MemoryCeiling),
				Value:     ratio,
				Threshold: rules.MemoryCeiling,
			})
		}
	}

	if stats.PressureLevel == "critical" {
		c.raiseAlert(Alert{
			Type:      AlertPressureCritical,
			Message:   "memory pressure is critical",
			Value:     3,
			Threshold: 3,
		})
	}
}

func (c *Collector) raiseAlert(alert Alert) {
	alert.Timestamp = time.Now()

	c.mu.Lock()
	c.alerts = append(c.alerts, alert)
	c.mu.Unlock()

	c.logger.Warn("metrics alert", map[string]interface{}{
		"type":      alert.Type.String(),
		"message":   alert.Message,
		"value":     alert.Value,
		"threshold": alert.Threshold,
	})
}
