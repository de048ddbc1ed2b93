package mediameta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

func (c *Client) fromOEmbed(ctx context.Context, mediaURL string) (Item, error) {
	endpoint, err := url.Parse(c.oembedEndpoint)
	if err != nil {
		return Item{}, fmt.Errorf("invalid oembed endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("format", "json")
	q.Set("url", mediaURL)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Item{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound:
			return Item{}, ErrMediaNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return Item{}, ErrMediaNotEmbeddable
		default:
			return Item{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
	}

	var result oembedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Item{}, fmt.Errorf("failed to decode oembed response: %w", err)
	}

	return Item{
		URL:          mediaURL,
		Title:        result.Title,
		AuthorName:   result.AuthorName,
		ThumbnailURL: result.ThumbnailURL,
	}, nil
}
