package humastar

import (
	"net/url"
	"strconv"
)

// Pager is implemented by response bodies that carry pagination metadata.
// The transformer passes the request URL so filters survive paging.
type Pager interface {
	PaginationLinks(u *url.URL) []string
}

// PageBody is an offset/limit page of a larger result. Total counts the
// whole result, not the page.
type PageBody[T any] struct {
	Total  int `json:"total" doc:"Items matching the request"`
	Offset int `json:"offset" doc:"Index of the first item returned"`
	Limit  int `json:"limit" doc:"Page size"`
	Data   []T `json:"data" doc:"Items of this page"`
}

// PaginationLinks returns first, prev, next and last links. Every other
// query parameter of u is kept.
func (p PageBody[T]) PaginationLinks(u *url.URL) []string {
	if p.Limit <= 0 {
		return nil
	}
	at := func(offset int, rel string) string {
		q := u.Query()
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(p.Limit))
		return `<` + u.Path + "?" + q.Encode() + `>; rel="` + rel + `"`
	}

	links := []string{at(0, "first")}
	if p.Offset > 0 {
		links = append(links, at(max(p.Offset-p.Limit, 0), "prev"))
	}
	if p.Offset+p.Limit < p.Total {
		links = append(links, at(p.Offset+p.Limit, "next"))
	}
	last := max((p.Total-1)/p.Limit*p.Limit, 0)
	return append(links, at(last, "last"))
}
