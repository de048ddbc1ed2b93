package mediameta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

var (
	ErrMediaNotFound      = errors.New("media not found")
	ErrMediaNotEmbeddable = errors.New("media is not embeddable")
	ErrUnavailable        = errors.New("metadata provider unavailable")
)

type Item struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type Config struct {
	// OEmbedEndpoint is queried as OEmbedEndpoint?format=json&url=<media url>.
	OEmbedEndpoint string
	Timeout        time.Duration
	// FailureThreshold consecutive provider failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

type Client struct {
	httpClient     *http.Client
	oembedEndpoint string
	cb             *gobreaker.CircuitBreaker[Item]
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	threshold := cfg.FailureThreshold
	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		oembedEndpoint: cfg.OEmbedEndpoint,
		cb: gobreaker.NewCircuitBreaker[Item](gobreaker.Settings{
			Name:    "mediameta",
			Timeout: cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// a missing media item says nothing about provider health
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrMediaNotFound)
			},
		}),
	}
}

// Lookup returns metadata for mediaURL. Media that refuses embedding falls back to parsing its page.
func (c *Client) Lookup(ctx context.Context, mediaURL string) (Item, error) {
	item, err := c.cb.Execute(func() (Item, error) {
		item, err := c.fromOEmbed(ctx, mediaURL)
		if err != nil {
			if !errors.Is(err, ErrMediaNotEmbeddable) {
				return Item{}, fmt.Errorf("failed to get media data with oembed: %w", err)
			}

			item, err = c.fromPage(ctx, mediaURL)
			if err != nil {
				return Item{}, fmt.Errorf("failed to get media data from page: %w", err)
			}
		}

		return item, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Item{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return item, err
}
