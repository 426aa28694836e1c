package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// SearchPage is one decoded page of search results.
type SearchPage struct {
	Items      []catalog.DiscoveredItem
	NextCursor string
	Raw        []byte
}

type searchEnvelope struct {
	Data           []json.RawMessage `json:"data"`
	NextPageCursor *string           `json:"nextPageCursor"`
}

type searchItem struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Price           *int64 `json:"price"`
	CreatorName     string `json:"creatorName"`
	CreatorTargetID int64  `json:"creatorTargetId"`
	FavoriteCount   int64  `json:"favoriteCount"`
	IsForSale       bool   `json:"isForSale"`
	IsLimited       bool   `json:"isLimited"`
}

// SearchClient walks the paginated item-search endpoint.
type SearchClient struct {
	baseURL string
	caller  *Caller
	clock   catalog.Clock
}

// NewSearchClient builds a SearchClient. The caller should be built with WithRateLimitPassthrough so the
// discovery loop can apply its own cooldown.
func NewSearchClient(baseURL string, caller *Caller, clock catalog.Clock) *SearchClient {
	return &SearchClient{baseURL: baseURL, caller: caller, clock: clock}
}

// Page fetches one page for q starting at cursor ("" for the first page).
func (c *SearchClient) Page(ctx context.Context, q catalog.Query, cursor string) (SearchPage, error) {
	target, err := c.pageURL(q, cursor)
	if err != nil {
		return SearchPage{}, err
	}
	resp, err := c.caller.Get(ctx, target)
	if err != nil {
		return SearchPage{}, err
	}
	page, err := decodeSearchPage(resp.Body, c.clock)
	if err != nil {
		return SearchPage{}, fmt.Errorf("search page %s: %w", target, err)
	}
	return page, nil
}

func (c *SearchClient) pageURL(q catalog.Query, cursor string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse search base url: %w", err)
	}
	u = u.JoinPath("v1", "search", "items")
	values := url.Values{}
	values.Set("category", q.Category)
	if q.Subcategory != "" {
		values.Set("subcategory", q.Subcategory)
	}
	if q.SortType != "" {
		values.Set("sortType", q.SortType)
	}
	if q.Keyword != "" {
		values.Set("keyword", q.Keyword)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if cursor != "" {
		values.Set("cursor", cursor)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func decodeSearchPage(body []byte, clock catalog.Clock) (SearchPage, error) {
	var env searchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return SearchPage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	now := clock.Now()
	page := SearchPage{Raw: body}
	if env.NextPageCursor != nil {
		page.NextCursor = *env.NextPageCursor
	}
	for _, raw := range env.Data {
		var it searchItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return SearchPage{}, fmt.Errorf("%w: item: %v", ErrDecode, err)
		}
		if it.ID == 0 {
			continue
		}
		page.Items = append(page.Items, catalog.DiscoveredItem{
			ID:            it.ID,
			Name:          it.Name,
			Price:         it.Price,
			SellerName:    it.CreatorName,
			SellerID:      it.CreatorTargetID,
			IsForSale:     it.IsForSale,
			IsLimited:     it.IsLimited,
			Favorites:     it.FavoriteCount,
			SearchPayload: append(json.RawMessage(nil), raw...),
			SeenAt:        now,
		})
	}
	return page, nil
}
