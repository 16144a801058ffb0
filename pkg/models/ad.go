package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Ad sources scraped by the cron endpoints.
const (
	AdSourceTikTok   = "tiktok"
	AdSourceFacebook = "facebook"
)

// WinningAd is a scraped high-performing ad creative.
type WinningAd struct {
	ID          uuid.UUID       `db:"id"          json:"id"`
	Source      string          `db:"source"      json:"source"`
	ExternalID  string          `db:"external_id" json:"external_id"`
	Title       string          `db:"title"       json:"title"`
	Advertiser  string          `db:"advertiser"  json:"advertiser"`
	MediaURL    string          `db:"media_url"   json:"media_url"`
	LandingURL  string          `db:"landing_url" json:"landing_url"`
	CTR         *float64        `db:"ctr"         json:"ctr,omitempty"`
	Likes       int64           `db:"likes"       json:"likes"`
	Impressions int64           `db:"impressions" json:"impressions"`
	Badge       *string         `db:"badge"       json:"badge,omitempty"`
	Raw         json.RawMessage `db:"raw"         json:"-"`
	ScrapedAt   time.Time       `db:"scraped_at"  json:"scraped_at"`
}

// Offer is an affiliate offer imported from a ClickBank marketplace export.
type Offer struct {
	ID           string    `db:"id"            json:"id"`
	Vendor       string    `db:"vendor"        json:"vendor"`
	Title        string    `db:"title"         json:"title"`
	CategoryMain string    `db:"category_main" json:"category_main"`
	CategorySub  *string   `db:"category_sub"  json:"category_sub,omitempty"`
	Gravity      float64   `db:"gravity"       json:"gravity"`
	AvgPayout    float64   `db:"avg_payout"    json:"avg_payout"`
	ImportedAt   time.Time `db:"imported_at"   json:"imported_at"`
}
