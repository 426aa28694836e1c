package discovery

import (
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// QueryState is the lifecycle of one query within a run.
type QueryState string

// Query states. NotStarted and Paging are transient; every issued query ends Exhausted or Aborted.
const (
	StateNotStarted QueryState = "not_started"
	StatePaging     QueryState = "paging"
	StateExhausted  QueryState = "exhausted"
	StateAborted    QueryState = "aborted"
)

// Queries expands targets into the ordered query space: category, then subcategory, then sort type, then
// keyword. A target without subcategories is swept as the whole category. Empty sort or keyword lists
// contribute a single unset value.
func Queries(targets []catalog.Target, sortTypes, keywords []string, pageSize int) []catalog.Query {
	sorts := orUnset(sortTypes)
	words := orUnset(keywords)

	var out []catalog.Query
	for _, target := range targets {
		category := strings.TrimSpace(target.Category)
		if category == "" {
			continue
		}
		for _, sub := range orUnset(target.Subcategories) {
			for _, sortType := range sorts {
				for _, keyword := range words {
					out = append(out, catalog.Query{
						Category:    category,
						Subcategory: strings.TrimSpace(sub),
						SortType:    sortType,
						Keyword:     keyword,
						Limit:       pageSize,
					})
				}
			}
		}
	}
	return out
}

func orUnset(values []string) []string {
	if len(values) == 0 {
		return []string{""}
	}
	return values
}

// filterTargets keeps only the named category; an empty name keeps everything.
func filterTargets(targets []catalog.Target, category string) []catalog.Target {
	if category == "" {
		return targets
	}
	var out []catalog.Target
	for _, t := range targets {
		if strings.EqualFold(t.Category, category) {
			out = append(out, t)
		}
	}
	return out
}
