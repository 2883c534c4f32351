package htmlutil

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, contents string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(contents))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestGetText(t *testing.T) {
	doc := mustDoc(t, `<div id="a">hello <b>big</b> world</div>`)
	require.Equal(t, "hello big world", GetText(doc.Find("#a").Nodes[0]))
}

func TestGetImageSources(t *testing.T) {
	base, err := url.Parse("https://shop.example.com/item/1.html")
	require.NoError(t, err)

	doc := mustDoc(t, `
		<div class="gallery">
			<img src="/img/a.jpg">
			<img src="placeholder.gif" data-src="//cdn.example.com/b.jpg">
			<img srcset="https://cdn.example.com/c.jpg 1x, https://cdn.example.com/c2.jpg 2x">
			<img src="data:image/png;base64,AAAA">
			<img>
		</div>
	`)

	sources := GetImageSources(context.Background(), base, doc.Find(".gallery img"))
	require.Equal(t, []string{
		"https://shop.example.com/img/a.jpg",
		"https://cdn.example.com/b.jpg",
		"https://cdn.example.com/c.jpg",
	}, sources)
}

func TestResolve(t *testing.T) {
	base, err := url.Parse("http://example.com/a/b")
	require.NoError(t, err)

	table := []struct {
		ref      string
		expected string
	}{
		{ref: "c.jpg", expected: "http://example.com/a/c.jpg"},
		{ref: "//cdn.example.com/x.png", expected: "http://cdn.example.com/x.png"},
		{ref: "https://other.com/y.png", expected: "https://other.com/y.png"},
	}
	for _, row := range table {
		resolved, err := Resolve(base, row.ref)
		require.NoError(t, err)
		require.Equal(t, row.expected, resolved)
	}
}
