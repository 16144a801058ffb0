package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mediaforge/mediaforge/pkg/models"
	"github.com/rs/zerolog"
)

// ActorRunner runs a scraping actor and returns its dataset items.
type ActorRunner interface {
	RunActorSync(ctx context.Context, actorID string, input any) ([]json.RawMessage, error)
}

// AdStore persists scraped ads.
type AdStore interface {
	UpsertWinningAd(ctx context.Context, ad *models.WinningAd) error
}

type ScraperOptions struct {
	TikTokActor   string
	FacebookActor string
	MaxItems      int
	Country       string
}

// ScrapeReport counts what one scrape did.
type ScrapeReport struct {
	Source     string `json:"source"`
	Fetched    int    `json:"fetched"`
	Saved      int    `json:"saved"`
	Skipped    int    `json:"skipped"`
	DurationMS int64  `json:"duration_ms"`
}

type Scraper struct {
	runner ActorRunner
	store  AdStore
	opts   ScraperOptions
	logger zerolog.Logger
}

func NewScraper(runner ActorRunner, st AdStore, opts ScraperOptions, logger zerolog.Logger) *Scraper {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 100
	}
	if opts.Country == "" {
		opts.Country = "US"
	}
	return &Scraper{
		runner: runner,
		store:  st,
		opts:   opts,
		logger: logger.With().Str("component", "ads_scraper").Logger(),
	}
}

// ScrapeWinningAds collects top TikTok ads from the Creative Center.
func (s *Scraper) ScrapeWinningAds(ctx context.Context) (ScrapeReport, error) {
	input := map[string]any{
		"maxItems": s.opts.MaxItems,
		"region":   s.opts.Country,
		"period":   7,
		"orderBy":  "ctr",
	}
	return s.scrape(ctx, models.AdSourceTikTok, s.opts.TikTokActor, input, mapTikTokAd)
}

// ScrapeFacebookAds collects active video ads from the Facebook Ads Library.
func (s *Scraper) ScrapeFacebookAds(ctx context.Context) (ScrapeReport, error) {
	libraryURL := fmt.Sprintf(
		"https://www.facebook.com/ads/library/?active_status=active&ad_type=all&country=%s&media_type=video",
		s.opts.Country)
	input := map[string]any{
		"startUrls":    []map[string]string{{"url": libraryURL}},
		"resultsLimit": s.opts.MaxItems,
	}
	return s.scrape(ctx, models.AdSourceFacebook, s.opts.FacebookActor, input, mapFacebookAd)
}

type mapFunc func(raw json.RawMessage) (*models.WinningAd, error)

func (s *Scraper) scrape(ctx context.Context, source, actor string, input any, mapItem mapFunc) (ScrapeReport, error) {
	start := time.Now()
	report := ScrapeReport{Source: source}

	items, err := s.runner.RunActorSync(ctx, actor, input)
	if err != nil {
		return report, fmt.Errorf("running %s actor: %w", source, err)
	}
	report.Fetched = len(items)

	for _, raw := range items {
		ad, err := mapItem(raw)
		if err != nil {
			report.Skipped++
			s.logger.Debug().Err(err).Str("source", source).Msg("ad item skipped")
			continue
		}
		ad.Source = source
		ad.Raw = raw
		if ad.CTR != nil {
			if badge := CTRBadge(*ad.CTR); badge != "" {
				ad.Badge = &badge
			}
		}
		if err := s.store.UpsertWinningAd(ctx, ad); err != nil {
			return report, fmt.Errorf("saving %s ad %s: %w", source, ad.ExternalID, err)
		}
		report.Saved++
	}

	report.DurationMS = time.Since(start).Milliseconds()
	s.logger.Info().
		Str("source", source).
		Int("fetched", report.Fetched).
		Int("saved", report.Saved).
		Int("skipped", report.Skipped).
		Msg("ads scraped")
	return report, nil
}

// flexString decodes a JSON string or number. Scrapers are inconsistent
// about ids.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type tiktokAd struct {
	ID          flexString `json:"id"`
	AdTitle     string     `json:"ad_title"`
	BrandName   string     `json:"brand_name"`
	CTR         *float64   `json:"ctr"`
	Like        int64      `json:"like"`
	Impression  int64      `json:"impression"`
	Clicks      int64      `json:"clicks"`
	LandingPage string     `json:"landing_page"`
	VideoInfo   struct {
		VideoURL map[string]string `json:"video_url"`
		Cover    string            `json:"cover"`
	} `json:"video_info"`
}

func mapTikTokAd(raw json.RawMessage) (*models.WinningAd, error) {
	var item tiktokAd
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decoding tiktok ad: %w", err)
	}
	if item.ID == "" {
		return nil, fmt.Errorf("tiktok ad without id")
	}
	media := bestVideoURL(item.VideoInfo.VideoURL)
	if media == "" {
		media = item.VideoInfo.Cover
	}
	if media == "" {
		return nil, fmt.Errorf("tiktok ad %s without media", item.ID)
	}

	return &models.WinningAd{
		ExternalID:  string(item.ID),
		Title:       item.AdTitle,
		Advertiser:  item.BrandName,
		MediaURL:    media,
		LandingURL:  item.LandingPage,
		CTR:         resolveCTR(item.CTR, item.Clicks, item.Impression),
		Likes:       item.Like,
		Impressions: item.Impression,
	}, nil
}

func bestVideoURL(byQuality map[string]string) string {
	for _, q := range []string{"1080p", "720p", "540p", "480p", "360p"} {
		if u := byQuality[q]; u != "" {
			return u
		}
	}
	for _, u := range byQuality {
		if u != "" {
			return u
		}
	}
	return ""
}

type facebookAd struct {
	AdArchiveID flexString `json:"adArchiveID"`
	PageName    string     `json:"pageName"`
	Snapshot    struct {
		Title         string `json:"title"`
		LinkURL       string `json:"link_url"`
		PageLikeCount int64  `json:"page_like_count"`
		Videos        []struct {
			VideoHDURL string `json:"video_hd_url"`
			VideoSDURL string `json:"video_sd_url"`
		} `json:"videos"`
		Images []struct {
			OriginalImageURL string `json:"original_image_url"`
		} `json:"images"`
	} `json:"snapshot"`
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
}

func mapFacebookAd(raw json.RawMessage) (*models.WinningAd, error) {
	var item facebookAd
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decoding facebook ad: %w", err)
	}
	if item.AdArchiveID == "" {
		return nil, fmt.Errorf("facebook ad without archive id")
	}

	var media string
	for _, v := range item.Snapshot.Videos {
		if media = firstNonEmpty(v.VideoHDURL, v.VideoSDURL); media != "" {
			break
		}
	}
	if media == "" {
		for _, img := range item.Snapshot.Images {
			if img.OriginalImageURL != "" {
				media = img.OriginalImageURL
				break
			}
		}
	}
	if media == "" {
		return nil, fmt.Errorf("facebook ad %s without media", item.AdArchiveID)
	}

	return &models.WinningAd{
		ExternalID:  string(item.AdArchiveID),
		Title:       item.Snapshot.Title,
		Advertiser:  item.PageName,
		MediaURL:    media,
		LandingURL:  item.Snapshot.LinkURL,
		CTR:         resolveCTR(nil, item.Clicks, item.Impressions),
		Likes:       item.Snapshot.PageLikeCount,
		Impressions: item.Impressions,
	}, nil
}

// resolveCTR prefers the reported rate, converting percentages to a
// fraction, and otherwise derives it from clicks and impressions.
func resolveCTR(reported *float64, clicks, impressions int64) *float64 {
	if reported != nil {
		ctr := *reported
		if ctr > 1 {
			ctr /= 100
		}
		return &ctr
	}
	if impressions <= 0 || clicks < 0 {
		return nil
	}
	ctr := math.Round(float64(clicks)/float64(impressions)*1e6) / 1e6
	return &ctr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
