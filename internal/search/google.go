// Package search finds products by text, by product url or by the contents of an image.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"shopsnap-backend/internal/components/assert"
	"shopsnap-backend/internal/components/telemetry"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_google_search = "google.search"
	report_vision_labels = "vision.labels"
)

const (
	DefaultGoogleBaseUrl = "https://www.googleapis.com"
	DefaultTimeout       = 10 * time.Second
	PageSize             = 10
	// the custom search api refuses to return anything past the 100th result
	maxStart = 91
)

var tracer = otel.Tracer("shopsnap.internal.search")

type Item struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Thumbnail   string `json:"thumbnail"`
	ContextLink string `json:"context_link"`
}

type Page struct {
	Items []Item `json:"items"`
	// NextStart is the start index of the next page, 0 if there are no more results.
	NextStart int   `json:"next_start"`
	Total     int64 `json:"total"`
}

type GoogleOptions struct {
	BaseUrl  string
	ApiKey   string
	EngineId string
	Timeout  time.Duration
}

// GoogleClient queries the Custom Search JSON api for images.
type GoogleClient struct {
	http *resty.Client
	opts GoogleOptions
	tel  telemetry.API
}

func NewGoogleClient(opts GoogleOptions, tel telemetry.API) GoogleClient {
	assert.NotEmptyStr(opts.ApiKey)
	assert.NotEmptyStr(opts.EngineId)
	assert.NotNil(tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultGoogleBaseUrl
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	tel = telemetry.NewScopedAPI("search", tel)

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("accept", "application/json")
	telemetry.InstrumentResty(client, tel)

	return GoogleClient{http: client, opts: opts, tel: tel}
}

type googleError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type googleResponse struct {
	SearchInformation struct {
		TotalResults string `json:"totalResults"`
	} `json:"searchInformation"`
	Queries struct {
		NextPage []struct {
			StartIndex int `json:"startIndex"`
		} `json:"nextPage"`
	} `json:"queries"`
	Items []struct {
		Title string `json:"title"`
		Link  string `json:"link"`
		Image struct {
			ThumbnailLink string `json:"thumbnailLink"`
			ContextLink   string `json:"contextLink"`
		} `json:"image"`
	} `json:"items"`
}

// Search returns the page of image results starting at the 1-based index start,
// a start below 1 is treated as the first page.
func (c GoogleClient) Search(ctx context.Context, query string, start int) (Page, error) {
	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("query", query),
		attribute.Int("start", start),
	)

	query = strings.TrimSpace(query)
	if query == "" {
		return Page{}, fmt.Errorf("search query is empty")
	}
	if start < 1 {
		start = 1
	}
	if start > maxStart {
		return Page{Items: []Item{}}, nil
	}

	c.tel.ReportDebug(report_google_search, query, start)

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":        c.opts.ApiKey,
			"cx":         c.opts.EngineId,
			"q":          query,
			"searchType": "image",
			"start":      strconv.Itoa(start),
			"num":        strconv.Itoa(PageSize),
		}).
		Get("/customsearch/v1")
	if err != nil {
		err = fmt.Errorf("search %q: %w", query, err)
		c.tel.ReportBroken(report_google_search, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return Page{}, err
	}
	if res.IsError() {
		var parsed googleError
		msg := res.String()
		if json.Unmarshal(res.Body(), &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		err = fmt.Errorf("search %q: status %d: %s", query, res.StatusCode(), msg)
		c.tel.ReportBroken(report_google_search, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status")
		return Page{}, err
	}

	var parsed googleResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		err = fmt.Errorf("unmarshal search response: %w", err)
		c.tel.ReportBroken(report_google_search, err)
		return Page{}, err
	}

	page := Page{Items: make([]Item, 0, len(parsed.Items))}
	for _, item := range parsed.Items {
		if item.Link == "" {
			continue
		}
		page.Items = append(page.Items, Item{
			Title:       item.Title,
			Link:        item.Link,
			Thumbnail:   item.Image.ThumbnailLink,
			ContextLink: item.Image.ContextLink,
		})
	}
	if parsed.SearchInformation.TotalResults != "" {
		total, err := strconv.ParseInt(parsed.SearchInformation.TotalResults, 10, 64)
		if err != nil {
			c.tel.ReportWarning(report_google_search, fmt.Errorf("parse total results: %w", err))
		}
		page.Total = total
	}
	if len(parsed.Queries.NextPage) > 0 && parsed.Queries.NextPage[0].StartIndex <= maxStart {
		page.NextStart = parsed.Queries.NextPage[0].StartIndex
	}

	return page, nil
}

// Merge appends the items of a newly loaded page to the ones already shown, items
// whose link is already present are skipped.
func Merge(existing, next []Item) []Item {
	seen := make(map[string]struct{}, len(existing)+len(next))
	out := make([]Item, 0, len(existing)+len(next))
	for _, list := range [][]Item{existing, next} {
		for _, item := range list {
			if _, ok := seen[item.Link]; ok {
				continue
			}
			seen[item.Link] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
