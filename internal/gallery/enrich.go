package gallery

import (
	"context"
	"fmt"
	"runtime/debug"
	"shopsnap-backend/internal/components/assert"
	"shopsnap-backend/internal/components/telemetry"
	"shopsnap-backend/internal/marketplace"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	report_enricher_detail = "enricher.detail"
	report_enricher_html   = "enricher.html"
)

const DefaultSourceTimeout = 8 * time.Second

var tracer = otel.Tracer("shopsnap.internal.gallery")

// DetailSource is implemented by *marketplace.Client.
type DetailSource interface {
	ProductDetail(ctx context.Context, itemId string, opts marketplace.ProductDetailOptions) (marketplace.ProductDetail, error)
}

// HtmlSource is implemented by productpage.Scraper.
type HtmlSource interface {
	Images(ctx context.Context, productUrl string) ([]string, error)
}

type EnricherOptions struct {
	// SourceTimeout bounds each source separately.
	SourceTimeout time.Duration
	DetailOptions marketplace.ProductDetailOptions
}

// Enricher collects everything known about a product's images and aggregates it.
// Either source may be nil, in which case it contributes nothing.
type Enricher struct {
	details DetailSource
	html    HtmlSource
	opts    EnricherOptions
	tel     telemetry.API
}

func NewEnricher(details DetailSource, html HtmlSource, opts EnricherOptions, tel telemetry.API) Enricher {
	assert.NotNil(tel)
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = DefaultSourceTimeout
	}
	return Enricher{
		details: details,
		html:    html,
		opts:    opts,
		tel:     telemetry.NewScopedAPI("gallery", tel),
	}
}

// Variants fetches the product detail and the product page concurrently and merges
// them with Aggregate. A failing source is reported and skipped, so the result is at
// worst the base image alone.
func (e Enricher) Variants(ctx context.Context, productUrl, baseImageUrl string) []ImageVariant {
	ctx, span := tracer.Start(ctx, "Variants")
	defer span.End()
	span.SetAttributes(attribute.String("product_url", productUrl))

	var detail *marketplace.ProductDetail
	var htmlImages []string

	// every goroutine reports its own failure and returns nil so that one source
	// failing never cancels the other.
	group := errgroup.Group{}
	if itemId, ok := marketplace.ExtractItemId(productUrl); ok && e.details != nil {
		group.Go(func() error {
			defer e.recoverSource(report_enricher_detail)

			ctx, cancel := context.WithTimeout(ctx, e.opts.SourceTimeout)
			defer cancel()

			res, err := e.details.ProductDetail(ctx, itemId, e.opts.DetailOptions)
			if err != nil {
				e.tel.ReportWarning(report_enricher_detail, fmt.Errorf("item %s: %w", itemId, err))
				return nil
			}
			detail = &res
			return nil
		})
	} else if e.details != nil {
		e.tel.ReportDebug(report_enricher_detail, "no item id in url", productUrl)
	}
	if e.html != nil && productUrl != "" {
		group.Go(func() error {
			defer e.recoverSource(report_enricher_html)

			ctx, cancel := context.WithTimeout(ctx, e.opts.SourceTimeout)
			defer cancel()

			res, err := e.html.Images(ctx, productUrl)
			if err != nil {
				e.tel.ReportWarning(report_enricher_html, err)
				return nil
			}
			htmlImages = res
			return nil
		})
	}
	_ = group.Wait()

	variants := Aggregate(baseImageUrl, detail, htmlImages)
	span.SetAttributes(attribute.Int("variants", len(variants)))
	return variants
}

// recoverSource turns a panicking source into a reported failure, the source then
// contributes nothing.
func (e Enricher) recoverSource(id string) {
	if r := recover(); r != nil {
		e.tel.ReportBroken(id, fmt.Errorf("source panicked: %v", r), string(debug.Stack()))
	}
}
