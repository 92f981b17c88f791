// Package aggregate joins the film and people datasets into a mapping from
// film title to the names of the characters appearing in it.
//
// Everything here is pure: no I/O, no logging, no shared state. Callers that
// want to log data-quality problems use Join and inspect the Report.
package aggregate

import (
	"sort"
	"strings"
)

// Film is a film record. Only ID and Title matter for the join; other upstream
// attributes are dropped on decode.
type Film struct {
	ID    string `json:"id" msgpack:"id" cbor:"id"`
	Title string `json:"title" msgpack:"title" cbor:"title"`
}

// Person is a people record. Films holds references whose last path segment
// is a film ID, e.g. "https://ghibliapi.herokuapp.com/films/<id>".
type Person struct {
	Name  string   `json:"name" msgpack:"name" cbor:"name"`
	Films []string `json:"films" msgpack:"films" cbor:"films"`
}

// Valid reports whether p carries both a name and a film reference list.
// An empty list is valid; a missing (nil) one is not.
func (p Person) Valid() bool {
	return p.Name != "" && p.Films != nil
}

// Result maps a film title to character names in order of appearance.
// Every title of the film dataset is a key, possibly with an empty list.
type Result map[string][]string

// Clone returns a deep copy so callers sharing a result cannot mutate each other's view.
func (r Result) Clone() Result {
	if r == nil {
		return nil
	}
	out := make(Result, len(r))
	for title, names := range r {
		cp := make([]string, len(names))
		copy(cp, names)
		out[title] = cp
	}
	return out
}

// Titles returns the keys of r in ascending order.
func (r Result) Titles() []string {
	titles := make([]string, 0, len(r))
	for t := range r {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	return titles
}

// Report describes the records Join left out.
type Report struct {
	InvalidPeople int      // people missing a name or a film list
	Unresolved    []string // film references whose id is not in the film dataset
}

// Aggregate is Join without the report.
func Aggregate(films []Film, people []Person) Result {
	r, _ := Join(films, people)
	return r
}

// Join builds the title -> names mapping.
//
// Titles are seeded from films in input order, people are processed in input
// order and each person's references in their given order, so two people on
// the same film keep first-seen-first order. References that do not resolve to
// a film are skipped and reported.
func Join(films []Film, people []Person) (Result, Report) {
	var rep Report
	if len(films) == 0 {
		return Result{}, rep
	}

	out := make(Result, len(films))
	titleByID := make(map[string]string, len(films))
	for _, f := range films {
		titleByID[f.ID] = f.Title
		if _, ok := out[f.Title]; !ok {
			out[f.Title] = []string{}
		}
	}

	for _, p := range people {
		if !p.Valid() {
			rep.InvalidPeople++
			continue
		}
		for _, ref := range p.Films {
			title, ok := titleByID[FilmID(ref)]
			if !ok {
				rep.Unresolved = append(rep.Unresolved, ref)
				continue
			}
			out[title] = append(out[title], p.Name)
		}
	}
	return out, rep
}

// FilmID extracts the trailing path segment of a film reference.
// A trailing slash is ignored; a bare id is returned as is.
func FilmID(ref string) string {
	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
