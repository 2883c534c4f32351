// Package gallery builds the ordered list of images shown in a product's carousel out
// of everything known about the product.
package gallery

import (
	"fmt"
	"net/url"
	"shopsnap-backend/internal/marketplace"
	"strings"
)

const (
	LabelDefault = "Default"
	LabelMain    = "Main"
	LabelVariant = "Variant"
)

// ImageVariant is a single carousel entry, Url is unique within a gallery.
type ImageVariant struct {
	Url   string `json:"url"`
	Label string `json:"label"`
}

// NormalizeImageUrl returns the url in the form it is stored in a gallery, ok is false
// if the value can not plausibly be an image url. Protocol relative urls are upgraded
// to https.
func NormalizeImageUrl(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t\n\r") {
		return "", false
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if parsed.Host == "" {
		return "", false
	}
	return raw, true
}

// variantSet is an ordered set of variants keyed by url, the first insert of a url wins.
type variantSet struct {
	seen  map[string]struct{}
	items []ImageVariant
}

func newVariantSet() *variantSet {
	return &variantSet{seen: map[string]struct{}{}, items: []ImageVariant{}}
}

// add returns false if the url was malformed or already present.
func (s *variantSet) add(rawUrl, label string) bool {
	normalized, ok := NormalizeImageUrl(rawUrl)
	if !ok {
		return false
	}
	if _, ok := s.seen[normalized]; ok {
		return false
	}
	s.seen[normalized] = struct{}{}
	s.items = append(s.items, ImageVariant{Url: normalized, Label: label})
	return true
}

func (s *variantSet) has(rawUrl string) bool {
	normalized, ok := NormalizeImageUrl(rawUrl)
	if !ok {
		return false
	}
	_, ok = s.seen[normalized]
	return ok
}

// Dedupe drops malformed and repeated urls, keeping the first occurrence of each.
func Dedupe(variants []ImageVariant) []ImageVariant {
	set := newVariantSet()
	for _, v := range variants {
		set.add(v.Url, v.Label)
	}
	return set.items
}

func propertyLabel(prop marketplace.ProductProperty) string {
	if strings.TrimSpace(prop.ValueName) != "" {
		return strings.TrimSpace(prop.ValueName)
	}
	if strings.TrimSpace(prop.Name) != "" {
		return strings.TrimSpace(prop.Name)
	}
	return LabelVariant
}

func structuredVariants(detail *marketplace.ProductDetail) []ImageVariant {
	set := newVariantSet()
	if detail == nil {
		return set.items
	}
	set.add(detail.OriginalImageUrl, LabelMain)
	for i, image := range detail.ImageList {
		set.add(image.ImageUrl, fmt.Sprintf("Image %d", i+1))
	}
	for _, prop := range detail.Properties {
		set.add(prop.ImageUrl, propertyLabel(prop))
	}
	return set.items
}

// Aggregate merges the images of a product into carousel order:
//
//  1. scraped html images, they are full resolution so they go first
//  2. the detail's main image, its image list, then per-property images
//  3. if nothing above produced a usable image, the base image labelled "Default"
//
// An html image that also appears in the detail keeps the detail's label but takes
// the html position. Malformed urls are dropped.
func Aggregate(baseImageUrl string, detail *marketplace.ProductDetail, htmlImages []string) []ImageVariant {
	structured := structuredVariants(detail)
	labels := make(map[string]string, len(structured))
	for _, v := range structured {
		labels[v.Url] = v.Label
	}

	set := newVariantSet()
	// html-only images continue the numbering of the structured image list
	htmlCount := 0
	if detail != nil {
		htmlCount = len(detail.ImageList)
	}
	for _, image := range htmlImages {
		normalized, ok := NormalizeImageUrl(image)
		if !ok || set.has(normalized) {
			continue
		}
		label, ok := labels[normalized]
		if !ok {
			htmlCount++
			label = fmt.Sprintf("Image %d", htmlCount)
		}
		set.add(normalized, label)
	}
	for _, v := range structured {
		set.add(v.Url, v.Label)
	}

	if len(set.items) == 0 {
		set.add(baseImageUrl, LabelDefault)
	}
	return set.items
}

// FromVariants turns a gallery back into a detail with the first image as the main
// image, feeding it to Aggregate reproduces the gallery's order.
func FromVariants(variants []ImageVariant) *marketplace.ProductDetail {
	detail := &marketplace.ProductDetail{}
	for i, v := range variants {
		if i == 0 {
			detail.OriginalImageUrl = v.Url
			continue
		}
		detail.ImageList = append(detail.ImageList, marketplace.ProductImage{ImageUrl: v.Url})
	}
	return detail
}
