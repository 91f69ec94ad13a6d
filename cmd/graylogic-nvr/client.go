package main

import (
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nvr/internal/protect"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/nvrapi"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/session"
)

// clientConfig converts the application configuration into protect client
// settings.
func clientConfig(cfg *config.Config) protect.Config {
	return protect.Config{
		NVR: nvrapi.Config{
			BaseURL:        cfg.NVR.URL,
			Username:       cfg.NVR.Username,
			Password:       cfg.NVR.Password,
			VerifyTLS:      cfg.NVR.VerifyTLS,
			RequestTimeout: cfg.NVR.RequestTimeout,
		},
		Session: session.Config{
			IdleTimeout:  cfg.Session.IdleTimeout,
			HealthyAfter: cfg.Session.HealthyAfter,
			Backoff:      backoffConfig(cfg.Session.Backoff),
		},
		Resync: protect.ResyncConfig{
			DecodeErrorThreshold: cfg.Resync.DecodeErrorThreshold,
			DegradedThreshold:    cfg.Resync.DegradedThreshold,
			BufferSize:           cfg.Resync.BufferSize,
			Backoff:              backoffConfig(cfg.Resync.Backoff),
			LoadTimeout:          cfg.Resync.LoadTimeout,
		},
		SubscriberBuffer: cfg.Cache.SubscriberBuffer,
		CaptureStats:     cfg.Cache.CaptureStats,
		StatsLimit:       cfg.Cache.StatsLimit,
	}
}

func backoffConfig(b config.BackoffConfig) session.BackoffConfig {
	return session.BackoffConfig{
		Initial:    b.Initial,
		Max:        b.Max,
		Multiplier: b.Multiplier,
		Jitter:     b.Jitter,
	}
}
