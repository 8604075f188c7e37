package preload

import (
	"net/url"
	"strings"
)

// Candidate is a URL surfaced for preload consideration, either because the
// caller named it directly (seed) or because a web search returned it.
type Candidate struct {
	URL           string
	NormalizedURL string
	SourceType    string // "seed", "seed_link", or "search"
	Title         string
	Snippet       string
}

// SearchExecutor runs a web search and returns result candidates, matching
// the research tool's web_search shape.
type SearchExecutor func(query string, count int) ([]Candidate, error)

const maxTitleChars = 200

// BudgetAllocation splits searchResultCount across queryCount queries: the
// first (original) query gets half the budget, the rest split the
// remainder evenly. A single query gets the whole budget.
func BudgetAllocation(queryCount, searchResultCount int) []int {
	if queryCount <= 0 {
		return nil
	}
	if queryCount == 1 {
		return []int{searchResultCount}
	}

	originalBudget := searchResultCount / 2
	if originalBudget < 1 {
		originalBudget = 1
	}
	remaining := searchResultCount - originalBudget
	subBudget := remaining / (queryCount - 1)
	if subBudget < 1 {
		subBudget = 1
	}

	allocation := make([]int, queryCount)
	allocation[0] = originalBudget
	for i := 1; i < queryCount; i++ {
		allocation[i] = subBudget
	}
	return allocation
}

// CollectCandidates gathers seed URLs plus web-search results for each
// query, deduplicating by normalized URL and capping at maxCandidates.
func CollectCandidates(seedURLs []string, queries []string, search SearchExecutor, maxCandidates int) ([]Candidate, []string) {
	var collected []Candidate
	var warnings []string

	for _, u := range seedURLs {
		if u == "" {
			continue
		}
		collected = append(collected, Candidate{URL: u, SourceType: "seed"})
	}

	if len(queries) > 0 && search != nil {
		allocation := BudgetAllocation(len(queries), defaultSearchResultCount(len(queries)))
		for i, q := range queries {
			if q == "" {
				continue
			}
			budget := 0
			if i < len(allocation) {
				budget = allocation[i]
			}
			results, err := search(q, budget)
			if err != nil {
				warnings = append(warnings, "search_error:"+err.Error())
				continue
			}
			for _, r := range results {
				r.SourceType = "search"
				if len(r.Title) > maxTitleChars {
					r.Title = r.Title[:maxTitleChars]
				}
				collected = append(collected, r)
			}
		}
	}

	deduped := make([]Candidate, 0, len(collected))
	seen := make(map[string]bool, len(collected))
	for _, c := range collected {
		normalized := normalizeSourceURL(c.URL)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		c.NormalizedURL = normalized
		deduped = append(deduped, c)
		if maxCandidates > 0 && len(deduped) >= maxCandidates {
			break
		}
	}
	return deduped, warnings
}

func defaultSearchResultCount(queryCount int) int {
	if queryCount <= 1 {
		return 10
	}
	return 10 * queryCount
}

func normalizeSourceURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
