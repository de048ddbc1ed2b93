package mediameta

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

func (c *Client) fromPage(ctx context.Context, mediaURL string) (Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return Item{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Item{}, ErrMediaNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Item{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return Item{}, err
	}

	return Item{
		URL:          mediaURL,
		Title:        strings.TrimSpace(getTitle(doc)),
		AuthorName:   getMetaContent(doc, "itemprop", "name"),
		ThumbnailURL: getMetaContent(doc, "property", "og:image"),
	}, nil
}

func getTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return n.FirstChild.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title := getTitle(c); title != "" {
			return title
		}
	}
	return ""
}

// getMetaContent returns the content attribute of the first link or meta element whose key attribute equals val.
func getMetaContent(n *html.Node, key, val string) string {
	if n.Type == html.ElementNode && (n.Data == "link" || n.Data == "meta") {
		var matched bool
		var content string
		for _, attr := range n.Attr {
			switch attr.Key {
			case key:
				matched = attr.Val == val
			case "content":
				content = attr.Val
			}
		}
		if matched {
			return content
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if content := getMetaContent(c, key, val); content != "" {
			return content
		}
	}
	return ""
}
