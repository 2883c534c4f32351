// Package productpage scrapes the image gallery off of a product's html page. It
// picks up full resolution images that the marketplace api often only reports as
// thumbnails.
package productpage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"shopsnap-backend/internal/components/assert"
	"shopsnap-backend/internal/components/telemetry"
	"shopsnap-backend/internal/imagecache"
	"shopsnap-backend/pkg/htmlutil"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_scraper_images = "scraper.images"
	report_scraper_cache  = "scraper.cache"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// ImageCache is the subset of imagecache.Cache the scraper depends on.
type ImageCache interface {
	Get(ctx context.Context, productUrl string) ([]string, error)
	Set(ctx context.Context, productUrl string, images []string) error
}

type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	// Cache is optional.
	Cache ImageCache
}

type Scraper struct {
	http  *resty.Client
	cache ImageCache
	tel   telemetry.API
}

func NewScraper(opts Options, tel telemetry.API) Scraper {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("productpage_scraper", tel)

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}

	httpClient := resty.New()
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	httpClient.SetHeader("user-agent", userAgent)
	httpClient.SetHeader("accept-language", "en-US,en;q=0.9")
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	// max burst >= rps just means that no requests will be dropped
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return Scraper{
		http:  httpClient,
		cache: opts.Cache,
		tel:   tel,
	}
}

// Images returns the image urls found on the product page in page order without
// duplicates. A page without any images is not an error.
func (s Scraper) Images(ctx context.Context, productUrl string) ([]string, error) {
	s.tel.ReportDebug(report_scraper_images, productUrl)

	parsed, err := url.Parse(productUrl)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("productpage: invalid product url %q", productUrl)
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, productUrl)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, imagecache.ErrNotFound) {
			s.tel.ReportWarning(report_scraper_cache, fmt.Errorf("get: %w", err))
		}
	}

	res, err := s.http.R().
		SetContext(ctx).
		Get(parsed.String())
	if err != nil {
		s.tel.ReportWarning(
			report_scraper_images,
			fmt.Errorf("fetch: %w", err),
			productUrl,
		)
		return nil, err
	}
	if res.IsError() {
		err := fmt.Errorf("fetch: unexpected status %d", res.StatusCode())
		s.tel.ReportWarning(report_scraper_images, err, productUrl)
		return nil, err
	}

	pageUrl := parsed
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		pageUrl = res.RawResponse.Request.URL
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		s.tel.ReportBroken(
			report_scraper_images,
			fmt.Errorf("parse: %w", err),
			productUrl,
		)
		return nil, err
	}

	images := extractImages(ctx, pageUrl, doc)

	// an empty result is usually a challenge page, it is retried on the next call.
	if s.cache != nil && len(images) > 0 {
		err := s.cache.Set(ctx, productUrl, images)
		if err != nil {
			s.tel.ReportWarning(report_scraper_cache, fmt.Errorf("set: %w", err))
		}
	}

	return images, nil
}

var (
	imagePathListRegex = regexp.MustCompile(`"imagePathList"\s*:\s*(\[[^\]]*\])`)
	thumbnailRegex     = regexp.MustCompile(`(?i)(\.(?:jpe?g|png|webp|gif))_\d+x\d+[^/]*$`)
)

// FullSize rewrites cdn thumbnail urls like `a.jpg_80x80.jpg_.webp` into the
// url of the original image `a.jpg`.
func FullSize(imageUrl string) string {
	return thumbnailRegex.ReplaceAllString(imageUrl, "$1")
}

const gallerySelector = `[class*="slider"] img, [class*="gallery"] img, [class*="magnifier"] img`

func extractImages(ctx context.Context, pageUrl *url.URL, doc *goquery.Document) []string {
	var found []string

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, sel *goquery.Selection) {
		content := strings.TrimSpace(sel.AttrOr("content", ""))
		if content != "" {
			found = append(found, content)
		}
	})

	for _, script := range doc.Find("script").Nodes {
		text := htmlutil.GetText(script)
		for _, groups := range imagePathListRegex.FindAllStringSubmatch(text, -1) {
			var paths []string
			err := json.Unmarshal([]byte(groups[1]), &paths)
			if err != nil {
				continue
			}
			found = append(found, paths...)
		}
	}

	found = append(found, htmlutil.GetImageSources(ctx, pageUrl, doc.Find(gallerySelector))...)

	seen := map[string]struct{}{}
	images := []string{}
	for _, image := range found {
		resolved, err := htmlutil.Resolve(pageUrl, image)
		if err != nil {
			continue
		}
		resolved = FullSize(resolved)
		if _, ok := seen[resolved]; ok {
			continue
		}
		seen[resolved] = struct{}{}
		images = append(images, resolved)
	}
	return images
}
