package main

import (
	"shopsnap-backend/internal/marketplace"
	"time"
)

type MarketplaceConfig struct {
	BaseUrl           string                  `json:"base_url"`
	Credentials       marketplace.Credentials `json:"credentials"`
	TrackingId        string                  `json:"tracking_id"`
	ShipToCountry     string                  `json:"ship_to_country"`
	TargetCurrency    string                  `json:"target_currency"`
	TargetLanguage    string                  `json:"target_language"`
	RequestsPerSecond float64                 `json:"requests_per_second"`
	TimeoutSeconds    int                     `json:"timeout_seconds"`
	// RedisUrl enables a token slot shared between instances, e.g.
	// redis://localhost:6379/0.
	RedisUrl string `json:"redis_url"`
	// RedirectHosts limits /api/go to these domains and their subdomains.
	RedirectHosts []string `json:"redirect_hosts"`
}

type GoogleConfig struct {
	ApiKey        string  `json:"api_key"`
	EngineId      string  `json:"engine_id"`
	VisionApiKey  string  `json:"vision_api_key"`
	MinLabelScore float64 `json:"min_label_score"`
}

type ImageCacheConfig struct {
	Database string `json:"database"`
	TtlHours int    `json:"ttl_hours"`
}

type Config struct {
	Port        int               `json:"port"`
	Marketplace MarketplaceConfig `json:"marketplace"`
	Google      GoogleConfig      `json:"google"`
	ImageCache  ImageCacheConfig  `json:"image_cache"`
}

func (c MarketplaceConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ImageCacheConfig) ttl() time.Duration {
	return time.Duration(c.TtlHours) * time.Hour
}
