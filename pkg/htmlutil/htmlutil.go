package htmlutil

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("shopsnap.pkg.htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

func getAttr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// firstSrcset returns the url of the first candidate in a srcset attribute.
func firstSrcset(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Resolve resolves a possibly relative reference against base, protocol-relative
// references (//host/path) inherit the scheme of base.
func Resolve(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if base == nil {
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}

// GetImageSources returns the source url of each image node in the selection,
// lazy-loading attributes (data-src) are preferred over src since src is often a
// placeholder in that case.
func GetImageSources(ctx context.Context, base *url.URL, sel *goquery.Selection) []string {
	_, span := tracer.Start(ctx, "GetImageSources")
	defer span.End()

	sources := []string{}
	for _, n := range sel.Nodes {
		src := getAttr(n, "data-src")
		if src == "" {
			src = getAttr(n, "src")
		}
		if src == "" {
			src = firstSrcset(getAttr(n, "srcset"))
		}
		if src == "" || strings.HasPrefix(src, "data:") {
			continue
		}

		resolved, err := Resolve(base, src)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "got error while parsing image url")
			continue
		}

		sources = append(sources, resolved)
		span.AddEvent("image", trace.WithAttributes(
			attribute.String("url", resolved),
		))
	}

	return sources
}
