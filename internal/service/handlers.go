package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"shopsnap-backend/internal/search"
	"strings"

	"connectrpc.com/connect"
)

func parseStart(start int) (int, error) {
	if start == 0 {
		return 1, nil
	}
	if start < 0 {
		return 0, badInput(fmt.Sprintf("invalid start %d", start))
	}
	return start, nil
}

func parseProductUrl(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, badInput("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, badInput(fmt.Sprintf("invalid url %q", raw))
	}
	return parsed, nil
}

func (s Service) Search(ctx context.Context, req *connect.Request[SearchRequest]) (*connect.Response[SearchResponse], error) {
	query := strings.TrimSpace(req.Msg.Query)
	if query == "" {
		return nil, s.fail(report_service_search, badInput("query is required"))
	}
	start, err := parseStart(req.Msg.Start)
	if err != nil {
		return nil, s.fail(report_service_search, err)
	}

	page, err := s.apis.Search.Search(ctx, query, start)
	if err != nil {
		return nil, s.fail(report_service_search, err)
	}
	return connect.NewResponse(&SearchResponse{Query: query, Page: pageMessage(page)}), nil
}

// SearchByImage searches for the labels the vision api recognizes in the image.
func (s Service) SearchByImage(ctx context.Context, req *connect.Request[SearchByImageRequest]) (*connect.Response[SearchResponse], error) {
	if s.apis.Labels == nil {
		return nil, s.fail(report_service_image_search, connect.NewError(
			connect.CodeUnimplemented,
			errors.New("image search is not configured"),
		))
	}
	start, err := parseStart(req.Msg.Start)
	if err != nil {
		return nil, s.fail(report_service_image_search, err)
	}

	image := req.Msg.Image
	if len(image) == 0 {
		return nil, s.fail(report_service_image_search, badInput("image is required"))
	}
	if int64(len(image)) > s.opts.MaxImageBytes {
		return nil, s.fail(report_service_image_search, connect.NewError(
			connect.CodeResourceExhausted,
			fmt.Errorf("image is larger than %d bytes", s.opts.MaxImageBytes),
		))
	}

	labels, err := s.apis.Labels.Labels(ctx, image)
	if err != nil {
		return nil, s.fail(report_service_image_search, err)
	}
	query := search.QueryFromLabels(labels, s.opts.MinLabelScore)
	if query == "" {
		return nil, s.fail(report_service_image_search, badInput("nothing recognizable in image"))
	}

	page, err := s.apis.Search.Search(ctx, query, start)
	if err != nil {
		return nil, s.fail(report_service_image_search, err)
	}
	return connect.NewResponse(&SearchResponse{Query: query, Page: pageMessage(page)}), nil
}

// SearchByUrl searches for the title of the product behind a marketplace url.
func (s Service) SearchByUrl(ctx context.Context, req *connect.Request[SearchByUrlRequest]) (*connect.Response[SearchResponse], error) {
	productUrl, err := parseProductUrl(req.Msg.Url)
	if err != nil {
		return nil, s.fail(report_service_url_search, err)
	}
	start, err := parseStart(req.Msg.Start)
	if err != nil {
		return nil, s.fail(report_service_url_search, err)
	}

	query, err := search.QueryFromUrl(ctx, s.apis.Details, productUrl.String())
	if err != nil {
		return nil, s.fail(report_service_url_search, badInput(err.Error()))
	}
	page, err := s.apis.Search.Search(ctx, query, start)
	if err != nil {
		return nil, s.fail(report_service_url_search, err)
	}
	return connect.NewResponse(&SearchResponse{Query: query, Page: pageMessage(page)}), nil
}

func (s Service) ProductImages(ctx context.Context, req *connect.Request[ProductImagesRequest]) (*connect.Response[ProductImagesResponse], error) {
	productUrl, err := parseProductUrl(req.Msg.Url)
	if err != nil {
		return nil, s.fail(report_service_images, err)
	}

	variants := s.apis.Gallery.Variants(ctx, productUrl.String(), req.Msg.ImageUrl)
	return connect.NewResponse(&ProductImagesResponse{Variants: variants}), nil
}

func (s Service) redirectAllowed(target *url.URL) bool {
	host := strings.ToLower(target.Hostname())
	for _, allowed := range s.opts.RedirectHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// handleRedirect sends the user to the affiliate link of a marketplace product, a
// failing affiliate call falls back to the product url itself. Urls outside of the
// marketplace are rejected.
func (s Service) handleRedirect(w http.ResponseWriter, r *http.Request) {
	productUrl, err := parseProductUrl(r.URL.Query().Get("url"))
	if err == nil && !s.redirectAllowed(productUrl) {
		err = badInput(fmt.Sprintf("%q is not a marketplace url", productUrl.Hostname()))
	}
	if err != nil {
		s.tel.ReportDebug(report_service_redirect, "rejected request", err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	target := productUrl.String()
	if s.apis.Links != nil && s.opts.TrackingId != "" {
		link, err := s.apis.Links.AffiliateLink(r.Context(), target, s.opts.TrackingId)
		if err != nil {
			s.tel.ReportWarning(report_service_redirect, err)
		} else {
			target = link
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}
