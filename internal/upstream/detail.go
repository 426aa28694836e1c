package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

type detailPayload struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Price   *int64 `json:"price"`
	Creator struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"creator"`
	IsForSale     bool  `json:"isForSale"`
	IsLimited     bool  `json:"isLimited"`
	FavoriteCount int64 `json:"favoriteCount"`
}

// DetailClient fetches the authoritative record for one item.
type DetailClient struct {
	baseURL string
	caller  *Caller
}

// NewDetailClient builds a DetailClient.
func NewDetailClient(baseURL string, caller *Caller) *DetailClient {
	return &DetailClient{baseURL: baseURL, caller: caller}
}

// Item returns the detail for id. A missing item yields an error matching ErrNotFound.
func (c *DetailClient) Item(ctx context.Context, id int64) (catalog.ItemDetail, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return catalog.ItemDetail{}, fmt.Errorf("parse detail base url: %w", err)
	}
	target := u.JoinPath("v1", "items", strconv.FormatInt(id, 10), "details").String()

	resp, err := c.caller.Get(ctx, target)
	if err != nil {
		return catalog.ItemDetail{}, err
	}

	var p detailPayload
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return catalog.ItemDetail{}, fmt.Errorf("item %d: %w: %v", id, ErrDecode, err)
	}
	if p.ID == 0 {
		p.ID = id
	}
	return catalog.ItemDetail{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		SellerName:    p.Creator.Name,
		SellerID:      p.Creator.ID,
		IsForSale:     p.IsForSale,
		IsLimited:     p.IsLimited,
		Favorites:     p.FavoriteCount,
		DetailPayload: append(json.RawMessage(nil), resp.Body...),
	}, nil
}
