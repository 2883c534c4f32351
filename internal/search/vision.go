package search

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"shopsnap-backend/internal/components/assert"
	"shopsnap-backend/internal/components/telemetry"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultVisionBaseUrl = "https://vision.googleapis.com"
	MaxLabels            = 5
)

type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type VisionOptions struct {
	BaseUrl string
	ApiKey  string
	Timeout time.Duration
}

// VisionClient labels images with the Cloud Vision api so that an uploaded photo
// can be turned into a text query.
type VisionClient struct {
	http *resty.Client
	opts VisionOptions
	tel  telemetry.API
}

func NewVisionClient(opts VisionOptions, tel telemetry.API) VisionClient {
	assert.NotEmptyStr(opts.ApiKey)
	assert.NotNil(tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultVisionBaseUrl
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

	return VisionClient{http: client, opts: opts, tel: tel}
}

type annotateFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type annotateImage struct {
	Content string `json:"content"`
}

type annotateImageRequest struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateRequest struct {
	Requests []annotateImageRequest `json:"requests"`
}

type annotateResponse struct {
	Responses []struct {
		LabelAnnotations []Label `json:"labelAnnotations"`
		Error            *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// Labels returns up to MaxLabels labels for the image, highest score first.
func (c VisionClient) Labels(ctx context.Context, image []byte) ([]Label, error) {
	ctx, span := tracer.Start(ctx, "Labels")
	defer span.End()

	if len(image) == 0 {
		return nil, fmt.Errorf("image is empty")
	}

	body := annotateRequest{Requests: []annotateImageRequest{{
		Image:    annotateImage{Content: base64.StdEncoding.EncodeToString(image)},
		Features: []annotateFeature{{Type: "LABEL_DETECTION", MaxResults: MaxLabels}},
	}}}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.opts.ApiKey).
		SetHeader("content-type", "application/json").
		SetBody(body).
		Post("/v1/images:annotate")
	if err != nil {
		err = fmt.Errorf("annotate image: %w", err)
		c.tel.ReportBroken(report_vision_labels, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	if res.IsError() {
		err = fmt.Errorf("annotate image: status %d: %s", res.StatusCode(), res.String())
		c.tel.ReportBroken(report_vision_labels, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status")
		return nil, err
	}

	var parsed annotateResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		return nil, fmt.Errorf("unmarshal annotate response: %w", err)
	}
	if len(parsed.Responses) == 0 {
		return []Label{}, nil
	}
	if parsed.Responses[0].Error != nil {
		err = fmt.Errorf("annotate image: %s", parsed.Responses[0].Error.Message)
		c.tel.ReportWarning(report_vision_labels, err)
		return nil, err
	}

	labels := parsed.Responses[0].LabelAnnotations
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].Score > labels[j].Score
	})
	if len(labels) > MaxLabels {
		labels = labels[:MaxLabels]
	}
	if labels == nil {
		labels = []Label{}
	}
	return labels, nil
}

// QueryFromLabels joins the descriptions of the labels scoring at least minScore,
// if none do the single best label is used.
func QueryFromLabels(labels []Label, minScore float64) string {
	var words []string
	seen := map[string]struct{}{}
	best := Label{Score: -1}
	for _, label := range labels {
		description := strings.TrimSpace(label.Description)
		if description == "" {
			continue
		}
		if label.Score > best.Score {
			best = Label{Description: description, Score: label.Score}
		}
		if label.Score < minScore {
			continue
		}
		key := strings.ToLower(description)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		words = append(words, description)
	}
	if len(words) == 0 {
		return best.Description
	}
	return strings.Join(words, " ")
}
