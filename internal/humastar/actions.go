package humastar

import (
	"net/url"
	"strconv"
	"strings"
)

// Action is a hypermedia control sent as an RFC 8288 Link header with
// method and title extension parameters:
//
//	</api/v1/projects/p1/tiles>; rel="tiles"; method="POST"; title="Genera tile"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
}

// Actor is implemented by response bodies whose available actions depend
// on their state.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as a Link header value.
func (a Action) LinkHeader() string {
	var sb strings.Builder
	sb.WriteString("<" + a.Href + ">; rel=" + strconv.Quote(a.Rel))
	if a.Method != "" {
		sb.WriteString("; method=" + strconv.Quote(a.Method))
	}
	if a.Title != "" {
		sb.WriteString("; title=" + strconv.Quote(a.Title))
	}
	return sb.String()
}

// ActionDef is an action template. Path holds an {id} placeholder.
// Needs names a condition the resource must meet for the action to apply;
// empty means always.
type ActionDef struct {
	Rel    string
	Path   string
	Method string
	Title  string
	Needs  string
}

// ActionsFor expands defs for the resource id, keeping those whose
// condition holds. holds may be nil when no def has a condition.
func ActionsFor(id string, defs []ActionDef, holds func(cond string) bool) []Action {
	actions := make([]Action, 0, len(defs))
	for _, d := range defs {
		if d.Needs != "" && (holds == nil || !holds(d.Needs)) {
			continue
		}
		actions = append(actions, Action{
			Rel:    d.Rel,
			Href:   strings.ReplaceAll(d.Path, "{id}", url.PathEscape(id)),
			Method: d.Method,
			Title:  d.Title,
		})
	}
	return actions
}
