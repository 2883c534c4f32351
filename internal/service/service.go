// Package service serves shopsnap.v1.SearchService over connect, next to the plain
// affiliate redirect at /api/go.
package service

import (
	"context"
	"errors"
	"net/http"
	"shopsnap-backend/internal/components/assert"
	"shopsnap-backend/internal/components/telemetry"
	"shopsnap-backend/internal/gallery"
	"shopsnap-backend/internal/marketplace"
	"shopsnap-backend/internal/search"
	"strings"

	"connectrpc.com/connect"
)

const (
	report_service_search       = "service.search"
	report_service_image_search = "service.image-search"
	report_service_url_search   = "service.url-search"
	report_service_images       = "service.images"
	report_service_redirect     = "service.redirect"
)

const (
	DefaultMinLabelScore = 0.7
	DefaultMaxImageBytes = 10 << 20
)

// DefaultRedirectHosts are the marketplace domains /api/go redirects to,
// subdomains included.
var DefaultRedirectHosts = []string{"aliexpress.com", "aliexpress.us"}

// Searcher is implemented by search.GoogleClient.
//
// note: fault injection point
type Searcher interface {
	Search(ctx context.Context, query string, start int) (search.Page, error)
}

// Labeler is implemented by search.VisionClient.
//
// note: fault injection point
type Labeler interface {
	Labels(ctx context.Context, image []byte) ([]search.Label, error)
}

// GalleryBuilder is implemented by gallery.Enricher.
//
// note: fault injection point
type GalleryBuilder interface {
	Variants(ctx context.Context, productUrl, baseImageUrl string) []gallery.ImageVariant
}

// Linker is implemented by *marketplace.Client.
//
// note: fault injection point
type Linker interface {
	AffiliateLink(ctx context.Context, sourceUrl, trackingId string) (string, error)
}

// APIs are the collaborators of the service, Labels, Details and Links may be nil
// in which case the features depending on them are degraded.
type APIs struct {
	Search  Searcher
	Labels  Labeler
	Details search.DetailSource
	Gallery GalleryBuilder
	Links   Linker
}

type Options struct {
	TrackingId    string
	MinLabelScore float64
	MaxImageBytes int64
	RedirectHosts []string
}

type Service struct {
	apis APIs
	opts Options
	tel  telemetry.API
}

func NewService(apis APIs, opts Options, tel telemetry.API) Service {
	assert.NotNil(apis.Search)
	assert.NotNil(apis.Gallery)
	assert.NotNil(tel)

	if opts.MinLabelScore <= 0 {
		opts.MinLabelScore = DefaultMinLabelScore
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultMaxImageBytes
	}
	if len(opts.RedirectHosts) == 0 {
		opts.RedirectHosts = DefaultRedirectHosts
	}
	hosts := make([]string, len(opts.RedirectHosts))
	for i, host := range opts.RedirectHosts {
		hosts[i] = strings.ToLower(strings.TrimPrefix(host, "."))
	}
	opts.RedirectHosts = hosts

	return Service{
		apis: apis,
		opts: opts,
		tel:  telemetry.NewScopedAPI("service", tel),
	}
}

// Handler mounts the connect procedures and the redirect on one mux, opts are
// applied to every procedure (interceptors, mostly).
func (s Service) Handler(opts ...connect.HandlerOption) http.Handler {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		// images travel base64 encoded inside the message
		connect.WithReadMaxBytes(int(s.opts.MaxImageBytes*4/3 + 64<<10)),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(SearchProcedure, connect.NewUnaryHandler(SearchProcedure, s.Search, opts...))
	mux.Handle(SearchByImageProcedure, connect.NewUnaryHandler(SearchByImageProcedure, s.SearchByImage, opts...))
	mux.Handle(SearchByUrlProcedure, connect.NewUnaryHandler(SearchByUrlProcedure, s.SearchByUrl, opts...))
	mux.Handle(ProductImagesProcedure, connect.NewUnaryHandler(ProductImagesProcedure, s.ProductImages, opts...))
	mux.HandleFunc("GET /api/go", s.handleRedirect)
	return mux
}

// badInputError marks errors caused by the request rather than by a collaborator.
type badInputError struct {
	msg string
}

func (e badInputError) Error() string {
	return e.msg
}

func badInput(msg string) error {
	return badInputError{msg: msg}
}

// codeFor maps an error to the connect code that is returned to the client.
func codeFor(err error) connect.Code {
	var badInputErr badInputError
	if errors.As(err, &badInputErr) {
		return connect.CodeInvalidArgument
	}
	var reservedErr *marketplace.ReservedParamError
	if errors.As(err, &reservedErr) {
		return connect.CodeInvalidArgument
	}
	var timeoutErr *marketplace.TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return connect.CodeDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return connect.CodeCanceled
	}
	return connect.CodeUnavailable
}

// fail reports err under id and turns it into a connect error, rejected input is
// only worth a debug report.
func (s Service) fail(id string, err error) error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		s.tel.ReportDebug(id, "rejected request", err.Error())
		return connectErr
	}
	code := codeFor(err)
	if code == connect.CodeInvalidArgument {
		s.tel.ReportDebug(id, "rejected request", err.Error())
	} else {
		s.tel.ReportWarning(id, err)
	}
	return connect.NewError(code, err)
}
