package humastar

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// EntryPoint is the path every top-level collection links "up" to.
const EntryPoint = "/health"

// index holds the Link headers derived from the OpenAPI paths, keyed by
// path template. AutoLinks fills it; LinkTransformer reads it.
var index = struct {
	sync.RWMutex
	links map[string][]string
}{}

// route is an OpenAPI path split into the shapes AutoLinks cares about:
// an item ends in a {param}, a collection in a literal segment. A nested
// collection (/projects/{id}/locali) has an owner item.
type route struct {
	path  string
	tags  []string
	item  bool
	owner string
}

func classify(p string, pi *huma.PathItem) route {
	r := route{path: p, tags: primaryTags(pi)}
	last := lastSegment(p)
	r.item = strings.HasPrefix(last, "{")
	if !r.item && strings.Contains(p, "{") {
		r.owner = path.Dir(p)
	}
	return r
}

// AutoLinks derives hypermedia links from the registered routes. Call it
// once every route, including the editor streams, is registered; editor
// routes get no links.
func AutoLinks(api huma.API) {
	oapi := api.OpenAPI()
	links := map[string][]string{}
	add := func(from, to, rel string) {
		v := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
		for _, existing := range links[from] {
			if existing == v {
				return
			}
		}
		links[from] = append(links[from], v)
	}

	var routes []route
	for p, pi := range oapi.Paths {
		r := classify(p, pi)
		if hasTag(r.tags, "editor") {
			continue
		}
		routes = append(routes, r)
	}
	// Stable header order regardless of map iteration.
	sort.Slice(routes, func(i, j int) bool { return routes[i].path < routes[j].path })

	for _, r := range routes {
		pi := oapi.Paths[r.path]
		switch {
		case r.item:
			// /projects/{id} -> /projects
			if parent := path.Dir(r.path); oapi.Paths[parent] != nil {
				add(r.path, parent, "collection")
				add(r.path, parent, "up")
				add(parent, r.path, "item")
			}
			if pi.Put != nil || pi.Patch != nil {
				add(r.path, r.path, "edit")
			}
		case r.owner != "":
			// /projects/{id}/locali <-> /projects/{id}, only for readable lists
			if pi.Get != nil && oapi.Paths[r.owner] != nil {
				add(r.path, r.owner, "up")
				add(r.owner, r.path, lastSegment(r.path))
			}
		case r.path != EntryPoint:
			add(r.path, EntryPoint, "up")
			if pi.Get != nil {
				add(EntryPoint, r.path, lastSegment(r.path))
			}
		}
		if !r.item && r.owner == "" && pi.Post != nil {
			add(r.path, r.path, "create-form")
		}
		if ref := responseSchema(pi); ref != "" {
			add(r.path, "/openapi.json#/components/schemas/"+ref, "describedby")
		}
	}
	add(EntryPoint, "/openapi.json", "service-desc")
	add(EntryPoint, "/docs", "service-doc")

	for p, headers := range links {
		if pi := oapi.Paths[p]; pi != nil {
			for _, op := range operationsOf(pi) {
				if op != nil {
					documentLinks(op, headers)
				}
			}
		}
	}

	index.Lock()
	index.links = links
	index.Unlock()
}

func linksFor(p string) []string {
	index.RLock()
	defer index.RUnlock()
	return index.links[p]
}

// LinkTransformer returns a Huma Transformer adding the derived links, a
// self link on templated paths, pagination links from a [Pager] body and
// action links from an [Actor] body.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil || !strings.HasPrefix(status, "2") {
			return v, nil
		}

		for _, link := range linksFor(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		u := ctx.URL()
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, u.Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(&u) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

// RootLinks returns the links of the entry point, for handlers outside Huma.
func RootLinks() []string {
	return linksFor(EntryPoint)
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

// documentLinks records the links on the operation's success response so
// the OpenAPI document carries them too.
func documentLinks(op *huma.Operation, headers []string) {
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLink(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  "Related: " + rel,
		}
	}
}

// responseSchema names the schema of the GET success body, if any.
func responseSchema(pi *huma.PathItem) string {
	if pi.Get == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

// parseLink splits `<href>; rel="name"`.
func parseLink(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if r, ok := strings.CutPrefix(params, "rel="); ok {
		rel = strings.Trim(r, `"`)
	}
	return rel, href
}
