// Package location resolves place names to coordinates from an offline
// gazetteer.
package location

import (
	"slices"
	"strings"
	"unicode"

	"github.com/golang/geo/s2"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EarthRadiusMeters is the mean Earth radius used for distances.
const EarthRadiusMeters = 6371008.8

// Place is a named point of interest.
type Place struct {
	Name    string   `json:"name" koanf:"name"`
	Aliases []string `json:"aliases,omitempty" koanf:"aliases"`
	Lat     float64  `json:"lat" koanf:"lat"`
	Lon     float64  `json:"lon" koanf:"lon"`
}

type entry struct {
	place Place
	keys  []string
}

// Gazetteer matches queries against place names and aliases ignoring case
// and diacritics. It is immutable after construction.
type Gazetteer struct {
	entries []entry
}

// New indexes places.
func New(places []Place) *Gazetteer {
	g := &Gazetteer{}
	for _, p := range places {
		e := entry{place: p, keys: []string{g.Normalize(p.Name)}}
		for _, a := range p.Aliases {
			e.keys = append(e.keys, g.Normalize(a))
		}
		g.entries = append(g.entries, e)
	}
	return g
}

// Normalize folds case, strips combining marks and collapses whitespace.
func (g *Gazetteer) Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	// a Caser keeps state, so each call gets its own
	return strings.Join(strings.Fields(cases.Fold().String(out)), " ")
}

// Len returns the number of places.
func (g *Gazetteer) Len() int { return len(g.entries) }

// Lookup returns the place whose name or alias equals name.
func (g *Gazetteer) Lookup(name string) (Place, bool) {
	key := g.Normalize(name)
	if key == "" {
		return Place{}, false
	}
	for _, e := range g.entries {
		if slices.Contains(e.keys, key) {
			return e.place, true
		}
	}
	return Place{}, false
}

// Search ranks exact matches first, then prefix matches, then substring
// matches, keeping gazetteer order within a rank. At most limit places are
// returned when limit is positive. No match yields an empty slice.
func (g *Gazetteer) Search(query string, limit int) []Place {
	q := g.Normalize(query)
	out := []Place{}
	if q == "" {
		return out
	}
	var ranks [3][]Place
	for _, e := range g.entries {
		best := -1
		for _, k := range e.keys {
			r := -1
			switch {
			case k == q:
				r = 0
			case strings.HasPrefix(k, q):
				r = 1
			case strings.Contains(k, q):
				r = 2
			}
			if r >= 0 && (best < 0 || r < best) {
				best = r
			}
		}
		if best >= 0 {
			ranks[best] = append(ranks[best], e.place)
		}
	}
	for _, r := range ranks {
		out = append(out, r...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Nearest returns the closest place to the coordinate and its distance in
// meters.
func (g *Gazetteer) Nearest(lat, lon float64) (Place, float64, bool) {
	if len(g.entries) == 0 {
		return Place{}, 0, false
	}
	from := s2.LatLngFromDegrees(lat, lon)
	best, bestDist := 0, -1.0
	for i, e := range g.entries {
		d := Distance(from, s2.LatLngFromDegrees(e.place.Lat, e.place.Lon))
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return g.entries[best].place, bestDist, true
}

// Distance returns the great-circle distance in meters.
func Distance(a, b s2.LatLng) float64 {
	return a.Distance(b).Radians() * EarthRadiusMeters
}
