package search

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"shopsnap-backend/internal/marketplace"
	"strings"
)

// DetailSource is implemented by *marketplace.Client.
type DetailSource interface {
	ProductDetail(ctx context.Context, itemId string, opts marketplace.ProductDetailOptions) (marketplace.ProductDetail, error)
}

var slugSeparators = regexp.MustCompile(`[-_+]+`)

// QueryFromUrl turns a product url into a text query. The product's title is used if
// the url names a marketplace item, otherwise the last path segment is used as a slug.
// details may be nil.
func QueryFromUrl(ctx context.Context, details DetailSource, productUrl string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(productUrl))
	if err != nil {
		return "", fmt.Errorf("parse product url: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("product url must be an absolute http(s) url")
	}

	if itemId, ok := marketplace.ExtractItemId(productUrl); ok && details != nil {
		detail, err := details.ProductDetail(ctx, itemId, marketplace.ProductDetailOptions{})
		if err == nil && detail.Title != "" {
			return detail.Title, nil
		}
	}

	segment := path.Base(strings.TrimRight(parsed.Path, "/"))
	segment = strings.TrimSuffix(segment, path.Ext(segment))
	if segment == "" || segment == "." || segment == "/" {
		return "", fmt.Errorf("could not derive a query from %s", productUrl)
	}
	unescaped, err := url.PathUnescape(segment)
	if err == nil {
		segment = unescaped
	}
	query := strings.TrimSpace(slugSeparators.ReplaceAllString(segment, " "))
	if query == "" {
		return "", fmt.Errorf("could not derive a query from %s", productUrl)
	}
	return query, nil
}
