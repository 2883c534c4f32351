package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"shopsnap-backend/internal/components/telemetry"
	"shopsnap-backend/internal/gallery"
	"shopsnap-backend/internal/marketplace"
	"shopsnap-backend/internal/search"
	"shopsnap-backend/pkg/serviceutil"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	mutex   sync.Mutex
	queries []string
	starts  []int
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, start int) (search.Page, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.queries = append(f.queries, query)
	f.starts = append(f.starts, start)
	if f.err != nil {
		return search.Page{}, f.err
	}
	return search.Page{
		Items:     []search.Item{{Title: query, Link: "https://img.example.com/" + url.PathEscape(query)}},
		NextStart: start + search.PageSize,
		Total:     42,
	}, nil
}

type fakeLabeler struct {
	labels []search.Label
	err    error
}

func (f fakeLabeler) Labels(ctx context.Context, image []byte) ([]search.Label, error) {
	return f.labels, f.err
}

type fakeGallery struct{}

func (fakeGallery) Variants(ctx context.Context, productUrl, baseImageUrl string) []gallery.ImageVariant {
	return gallery.Aggregate(baseImageUrl, nil, nil)
}

type fakeLinker struct {
	link string
	err  error
}

func (f fakeLinker) AffiliateLink(ctx context.Context, sourceUrl, trackingId string) (string, error) {
	return f.link, f.err
}

type fakeDetails struct{}

func (fakeDetails) ProductDetail(ctx context.Context, itemId string, opts marketplace.ProductDetailOptions) (marketplace.ProductDetail, error) {
	return marketplace.ProductDetail{ItemId: itemId, Title: "Hiking Boots"}, nil
}

func newTestService(apis APIs, opts Options) (http.Handler, *telemetry.Recorder) {
	if apis.Search == nil {
		apis.Search = &fakeSearcher{}
	}
	if apis.Gallery == nil {
		apis.Gallery = fakeGallery{}
	}
	tel := telemetry.NewRecorder()
	return NewService(apis, opts, tel).Handler(), tel
}

func newTestServer(t *testing.T, apis APIs, opts Options) (*httptest.Server, *telemetry.Recorder) {
	handler, tel := newTestService(apis, opts)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, tel
}

func call[Req, Res any](t *testing.T, server *httptest.Server, procedure string, msg *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](server.Client(), server.URL+procedure, connect.WithCodec(jsonCodec{}))
	res, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func do(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	server, _ := newTestServer(t, APIs{Search: searcher}, Options{})

	res, err := call[SearchRequest, SearchResponse](t, server, SearchProcedure, &SearchRequest{Query: "running shoes", Start: 11})
	require.NoError(t, err)
	require.Equal(t, "running shoes", res.Query)
	require.Equal(t, 21, res.Page.NextStart)
	require.Equal(t, int64(42), res.Page.Total)
	require.Equal(t, "running shoes", res.Page.Items[0].Title)
	require.Equal(t, []int{11}, searcher.starts)

	_, err = call[SearchRequest, SearchResponse](t, server, SearchProcedure, &SearchRequest{Query: "boots"})
	require.NoError(t, err)
	require.Equal(t, []int{11, 1}, searcher.starts)

	_, err = call[SearchRequest, SearchResponse](t, server, SearchProcedure, &SearchRequest{})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = call[SearchRequest, SearchResponse](t, server, SearchProcedure, &SearchRequest{Query: "a", Start: -1})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSearchWithInterceptors(t *testing.T) {
	var procedures []string
	var mutex sync.Mutex
	record := connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			mutex.Lock()
			procedures = append(procedures, req.Spec().Procedure)
			mutex.Unlock()
			return next(ctx, req)
		}
	})

	handler := NewService(APIs{Search: &fakeSearcher{}, Gallery: fakeGallery{}}, Options{}, telemetry.NewRecorder()).
		Handler(connect.WithInterceptors(serviceutil.NewConnectOtelInterceptor(), record))
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	res, err := call[SearchRequest, SearchResponse](t, server, SearchProcedure, &SearchRequest{Query: "tent"})
	require.NoError(t, err)
	require.Equal(t, "tent", res.Query)

	mutex.Lock()
	defer mutex.Unlock()
	require.Equal(t, []string{SearchProcedure}, procedures)
}

func TestSearchWireFormat(t *testing.T) {
	server, _ := newTestServer(t, APIs{}, Options{})

	res, err := server.Client().Post(server.URL+SearchProcedure, "application/json", strings.NewReader(`{"query": "tent", "unknown": 1}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	page := body["page"].(map[string]any)
	require.Equal(t, "42", page["total"])
	require.EqualValues(t, 11, page["nextStart"])
}

func TestSearchErrorCodes(t *testing.T) {
	table := []struct {
		err  error
		code connect.Code
	}{
		{err: &marketplace.ReservedParamError{Keys: []string{"v"}}, code: connect.CodeInvalidArgument},
		{err: &marketplace.ApiRequestError{Method: "m", Attempts: 1, Err: &marketplace.TimeoutError{Op: "m", Timeout: time.Second}}, code: connect.CodeDeadlineExceeded},
		{err: context.DeadlineExceeded, code: connect.CodeDeadlineExceeded},
		{err: &marketplace.AuthenticationError{Attempts: 3, Err: errors.New("denied")}, code: connect.CodeUnavailable},
		{err: &marketplace.ApiRequestError{Method: "m", Attempts: 3, Err: errors.New("500")}, code: connect.CodeUnavailable},
		{err: errors.New("quota exceeded"), code: connect.CodeUnavailable},
	}

	for _, row := range table {
		server, tel := newTestServer(t, APIs{Search: &fakeSearcher{err: row.err}}, Options{})
		_, err := call[SearchRequest, SearchResponse](t, server, SearchProcedure, &SearchRequest{Query: "shoes"})
		require.Equal(t, row.code, connect.CodeOf(err), row.err.Error())

		var connectErr *connect.Error
		require.ErrorAs(t, err, &connectErr)
		require.Equal(t, row.err.Error(), connectErr.Message())

		if row.code == connect.CodeInvalidArgument {
			require.Empty(t, tel.Find("warning", report_service_search))
		} else {
			require.NotEmpty(t, tel.Find("warning", report_service_search))
		}
	}
}

func TestSearchByImage(t *testing.T) {
	searcher := &fakeSearcher{}
	server, _ := newTestServer(t, APIs{
		Search: searcher,
		Labels: fakeLabeler{labels: []search.Label{
			{Description: "Footwear", Score: 0.95},
			{Description: "Boot", Score: 0.8},
			{Description: "Brown", Score: 0.3},
		}},
	}, Options{})

	res, err := call[SearchByImageRequest, SearchResponse](t, server, SearchByImageProcedure, &SearchByImageRequest{Image: []byte("\x89PNG")})
	require.NoError(t, err)
	require.Equal(t, "Footwear Boot", res.Query)
	require.Equal(t, []string{"Footwear Boot"}, searcher.queries)

	_, err = call[SearchByImageRequest, SearchResponse](t, server, SearchByImageProcedure, &SearchByImageRequest{})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSearchByImageLimits(t *testing.T) {
	server, _ := newTestServer(t, APIs{Labels: fakeLabeler{}}, Options{MaxImageBytes: 4})

	_, err := call[SearchByImageRequest, SearchResponse](t, server, SearchByImageProcedure, &SearchByImageRequest{Image: []byte("0123456789")})
	require.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))

	_, err = call[SearchByImageRequest, SearchResponse](t, server, SearchByImageProcedure, &SearchByImageRequest{Image: []byte("012")})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	unconfigured, _ := newTestServer(t, APIs{}, Options{})
	_, err = call[SearchByImageRequest, SearchResponse](t, unconfigured, SearchByImageProcedure, &SearchByImageRequest{Image: []byte("012")})
	require.Equal(t, connect.CodeUnimplemented, connect.CodeOf(err))
}

func TestSearchByUrl(t *testing.T) {
	searcher := &fakeSearcher{}
	server, _ := newTestServer(t, APIs{Search: searcher, Details: fakeDetails{}}, Options{})

	res, err := call[SearchByUrlRequest, SearchResponse](t, server, SearchByUrlProcedure, &SearchByUrlRequest{Url: "https://www.aliexpress.com/item/1005.html"})
	require.NoError(t, err)
	require.Equal(t, "Hiking Boots", res.Query)

	_, err = call[SearchByUrlRequest, SearchResponse](t, server, SearchByUrlProcedure, &SearchByUrlRequest{Url: "ftp://x"})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = call[SearchByUrlRequest, SearchResponse](t, server, SearchByUrlProcedure, &SearchByUrlRequest{Url: "https://shop.example.com/"})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestProductImages(t *testing.T) {
	server, _ := newTestServer(t, APIs{}, Options{})

	res, err := call[ProductImagesRequest, ProductImagesResponse](t, server, ProductImagesProcedure, &ProductImagesRequest{
		Url:      "https://shop.example.com/item/1.html",
		ImageUrl: "https://img.example.com/base.jpg",
	})
	require.NoError(t, err)
	require.Equal(t, []gallery.ImageVariant{
		{Url: "https://img.example.com/base.jpg", Label: "Default"},
	}, res.Variants)

	_, err = call[ProductImagesRequest, ProductImagesResponse](t, server, ProductImagesProcedure, &ProductImagesRequest{})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestRedirect(t *testing.T) {
	productUrl := "https://www.aliexpress.com/item/1005.html"
	target := "/api/go?url=" + url.QueryEscape(productUrl)

	handler, _ := newTestService(APIs{Links: fakeLinker{link: "https://s.click.example.com/e/_abc"}}, Options{TrackingId: "shopsnap"})
	res := do(t, handler, http.MethodGet, target)
	require.Equal(t, http.StatusFound, res.Code)
	require.Equal(t, "https://s.click.example.com/e/_abc", res.Header().Get("location"))

	handler, tel := newTestService(APIs{Links: fakeLinker{err: errors.New("no promotion link")}}, Options{TrackingId: "shopsnap"})
	res = do(t, handler, http.MethodGet, target)
	require.Equal(t, http.StatusFound, res.Code)
	require.Equal(t, productUrl, res.Header().Get("location"))
	require.NotEmpty(t, tel.Find("warning", report_service_redirect))

	handler, _ = newTestService(APIs{}, Options{})
	res = do(t, handler, http.MethodGet, target)
	require.Equal(t, http.StatusFound, res.Code)
	require.Equal(t, productUrl, res.Header().Get("location"))

	res = do(t, handler, http.MethodGet, "/api/go?url=javascript:alert(1)")
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = do(t, handler, http.MethodPost, target)
	require.Equal(t, http.StatusMethodNotAllowed, res.Code)
}

func TestRedirectRejectsForeignHosts(t *testing.T) {
	handler, _ := newTestService(APIs{Links: fakeLinker{err: errors.New("no promotion link")}}, Options{TrackingId: "shopsnap"})

	for _, foreign := range []string{
		"https://evil.example.net/phish",
		"https://aliexpress.com.evil.example.net/item/1.html",
		"https://notaliexpress.com/item/1.html",
	} {
		res := do(t, handler, http.MethodGet, "/api/go?url="+url.QueryEscape(foreign))
		require.Equal(t, http.StatusBadRequest, res.Code, foreign)
		require.Empty(t, res.Header().Get("location"), foreign)
	}

	res := do(t, handler, http.MethodGet, "/api/go?url="+url.QueryEscape("https://aliexpress.us/item/3256.html"))
	require.Equal(t, http.StatusFound, res.Code)

	custom, _ := newTestService(APIs{}, Options{RedirectHosts: []string{"Shop.Example.com"}})
	res = do(t, custom, http.MethodGet, "/api/go?url="+url.QueryEscape("https://shop.example.com/item/1.html"))
	require.Equal(t, http.StatusFound, res.Code)
	res = do(t, custom, http.MethodGet, "/api/go?url="+url.QueryEscape("https://www.aliexpress.com/item/1005.html"))
	require.Equal(t, http.StatusBadRequest, res.Code)
}
