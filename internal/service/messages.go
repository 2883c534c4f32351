package service

import (
	"shopsnap-backend/internal/gallery"
	"shopsnap-backend/internal/search"
)

const SearchServiceName = "shopsnap.v1.SearchService"

const (
	SearchProcedure        = "/" + SearchServiceName + "/Search"
	SearchByImageProcedure = "/" + SearchServiceName + "/SearchByImage"
	SearchByUrlProcedure   = "/" + SearchServiceName + "/SearchByUrl"
	ProductImagesProcedure = "/" + SearchServiceName + "/ProductImages"
)

type SearchItem struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	ContextLink string `json:"contextLink,omitempty"`
}

type SearchPage struct {
	Items     []SearchItem `json:"items"`
	NextStart int          `json:"nextStart,omitempty"`
	// int64 is a string in proto3 json.
	Total int64 `json:"total,string"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Start int    `json:"start,omitempty"`
}

type SearchByImageRequest struct {
	Image []byte `json:"image"`
	Start int    `json:"start,omitempty"`
}

type SearchByUrlRequest struct {
	Url   string `json:"url"`
	Start int    `json:"start,omitempty"`
}

type SearchResponse struct {
	Query string     `json:"query"`
	Page  SearchPage `json:"page"`
}

type ProductImagesRequest struct {
	Url      string `json:"url"`
	ImageUrl string `json:"imageUrl,omitempty"`
}

type ProductImagesResponse struct {
	Variants []gallery.ImageVariant `json:"variants"`
}

func pageMessage(page search.Page) SearchPage {
	items := make([]SearchItem, len(page.Items))
	for i, item := range page.Items {
		items[i] = SearchItem{
			Title:       item.Title,
			Link:        item.Link,
			Thumbnail:   item.Thumbnail,
			ContextLink: item.ContextLink,
		}
	}
	return SearchPage{
		Items:     items,
		NextStart: page.NextStart,
		Total:     page.Total,
	}
}
