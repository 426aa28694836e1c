package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Thumbnail is the image state for one requested id.
type Thumbnail struct {
	TargetID int64  `json:"targetId"`
	State    string `json:"state"`
	ImageURL string `json:"imageUrl"`
}

// ThumbnailClient resolves image URLs for a batch of ids.
type ThumbnailClient struct {
	baseURL string
	caller  *Caller
}

// NewThumbnailClient builds a ThumbnailClient.
func NewThumbnailClient(baseURL string, caller *Caller) *ThumbnailClient {
	return &ThumbnailClient{baseURL: baseURL, caller: caller}
}

// Batch fetches thumbnails for ids at the given size and format.
func (c *ThumbnailClient) Batch(ctx context.Context, ids []int64, size, format string) ([]Thumbnail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse thumbnail base url: %w", err)
	}
	u = u.JoinPath("v1", "assets")
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	values := url.Values{}
	values.Set("assetIds", strings.Join(parts, ","))
	values.Set("size", size)
	values.Set("format", format)
	u.RawQuery = values.Encode()

	resp, err := c.caller.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	var env struct {
		Data []Thumbnail `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("thumbnails: %w: %v", ErrDecode, err)
	}
	return env.Data, nil
}
