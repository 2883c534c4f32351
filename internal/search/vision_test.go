package search

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"shopsnap-backend/internal/components/telemetry"
	"shopsnap-backend/internal/marketplace"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVisionLabels(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G'}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body annotateRequest
		err := json.NewDecoder(r.Body).Decode(&body)
		if err != nil || r.URL.Path != "/v1/images:annotate" || r.URL.Query().Get("key") != "key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(body.Requests) != 1 ||
			body.Requests[0].Image.Content != base64.StdEncoding.EncodeToString(image) ||
			body.Requests[0].Features[0].Type != "LABEL_DETECTION" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"responses": [{"labelAnnotations": [
			{"description": "Shoe", "score": 0.91},
			{"description": "Footwear", "score": 0.97},
			{"description": "Sneakers", "score": 0.62}
		]}]}`)
	}))
	defer server.Close()

	client := NewVisionClient(VisionOptions{BaseUrl: server.URL, ApiKey: "key"}, telemetry.NewRecorder())
	labels, err := client.Labels(context.Background(), image)
	require.NoError(t, err)
	require.Equal(t, []Label{
		{Description: "Footwear", Score: 0.97},
		{Description: "Shoe", Score: 0.91},
		{Description: "Sneakers", Score: 0.62},
	}, labels)
}

func TestVisionLabelsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"responses": [{"error": {"code": 3, "message": "Bad image data."}}]}`)
	}))
	defer server.Close()

	client := NewVisionClient(VisionOptions{BaseUrl: server.URL, ApiKey: "key"}, telemetry.NewRecorder())

	_, err := client.Labels(context.Background(), []byte("garbage"))
	require.ErrorContains(t, err, "Bad image data.")

	_, err = client.Labels(context.Background(), nil)
	require.Error(t, err)
}

func TestQueryFromLabels(t *testing.T) {
	labels := []Label{
		{Description: "Footwear", Score: 0.97},
		{Description: "Shoe", Score: 0.91},
		{Description: "shoe", Score: 0.9},
		{Description: "Sneakers", Score: 0.62},
	}
	require.Equal(t, "Footwear Shoe", QueryFromLabels(labels, 0.8))
	require.Equal(t, "Footwear", QueryFromLabels(labels, 0.99))
	require.Equal(t, "", QueryFromLabels(nil, 0.5))
}

type fakeDetails struct {
	title string
	err   error
}

func (f fakeDetails) ProductDetail(ctx context.Context, itemId string, opts marketplace.ProductDetailOptions) (marketplace.ProductDetail, error) {
	return marketplace.ProductDetail{ItemId: itemId, Title: f.title}, f.err
}

func TestQueryFromUrl(t *testing.T) {
	ctx := context.Background()

	query, err := QueryFromUrl(ctx, fakeDetails{title: "Waterproof Hiking Boots"}, "https://www.aliexpress.com/item/1005.html")
	require.NoError(t, err)
	require.Equal(t, "Waterproof Hiking Boots", query)

	query, err = QueryFromUrl(ctx, fakeDetails{err: errors.New("down")}, "https://shop.example.com/product/trail-running_shoes/77.html")
	require.NoError(t, err)
	require.Equal(t, "77", query)

	query, err = QueryFromUrl(ctx, nil, "https://shop.example.com/p/trail-running_shoes.html?ref=x")
	require.NoError(t, err)
	require.Equal(t, "trail running shoes", query)

	query, err = QueryFromUrl(ctx, nil, "https://shop.example.com/p/red%20dress/")
	require.NoError(t, err)
	require.Equal(t, "red dress", query)

	_, err = QueryFromUrl(ctx, nil, "https://shop.example.com/")
	require.Error(t, err)

	_, err = QueryFromUrl(ctx, nil, "shop.example.com/item")
	require.Error(t, err)
}
