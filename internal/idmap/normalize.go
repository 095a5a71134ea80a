package idmap

import (
	"regexp"
	"strconv"
	"strings"
)

// cleanSentinels are values that normalize away to "absent" regardless of kind.
var cleanSentinels = map[string]struct{}{
	"none": {}, "null": {}, "nan": {}, "undefined": {}, "unknown": {}, "0": {}, "": {},
}

var nonDigits = regexp.MustCompile(`\D+`)
var imdbDigits = regexp.MustCompile(`tt\d+`)

func normStr(v string) string {
	return strings.TrimSpace(v)
}

// normType folds common synonyms onto the four canonical types.
func normType(t string) ItemType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "movies", "movie":
		return TypeMovie
	case "shows", "series", "tv", "show":
		return TypeShow
	case "seasons", "season":
		return TypeSeason
	case "episodes", "episode":
		return TypeEpisode
	default:
		return TypeMovie
	}
}

// normalizeID applies the per-kind normalization rules from the invariants table.
// It returns ("", false) when the value is empty or a rejected sentinel.
func normalizeID(kind, val string) (string, bool) {
	v := normStr(val)
	lv := strings.ToLower(v)
	if _, bad := cleanSentinels[lv]; bad {
		return "", false
	}

	switch kind {
	case "imdb":
		if m := imdbDigits.FindString(lv); m != "" {
			return m, true
		}
		digits := nonDigits.ReplaceAllString(lv, "")
		if digits == "" {
			return "", false
		}
		return "tt" + digits, true
	case "tmdb", "tvdb", "trakt", "simkl", "mal", "anilist", "kitsu", "anidb", "plex", "jellyfin":
		digits := nonDigits.ReplaceAllString(v, "")
		if digits == "" {
			return "", false
		}
		return digits, true
	case "slug":
		return lv, true
	case "guid":
		return v, true
	default:
		if v == "" {
			return "", false
		}
		return v, true
	}
}

// Normalize enforces id normalization on every id map the item carries, strips
// empty/sentinel values, and preserves passthrough fields (ShowIDs, LibraryID,
// rating/timestamp fields, season/episode attributes).
func Normalize(it Item) Item {
	out := it.Clone()
	out.Type = normType(string(it.Type))
	out.Title = normStr(it.Title)
	out.IDs = normalizeIDMap(it.IDs)
	if it.ShowIDs != nil {
		out.ShowIDs = normalizeIDMap(it.ShowIDs)
	}
	if out.RatingSet {
		out.Rating = ClampRating(float64(it.Rating))
	}
	return out
}

func normalizeIDMap(ids map[string]string) map[string]string {
	out := make(map[string]string, len(ids))
	for kind, val := range ids {
		kind = strings.ToLower(strings.TrimSpace(kind))
		if nv, ok := normalizeID(kind, val); ok {
			out[kind] = nv
		}
	}
	return out
}

// ClampRating converts a rating expressed on a 5-star or 0-100 scale into the
// canonical [1,10] integer scale, rounding to the nearest integer. Values that
// cannot be clamped into range return 0 (absent).
func ClampRating(v float64) int {
	f := v
	if f > 10 && f <= 100 {
		f = f / 10
	}
	r := int(f + 0.5)
	if r < 1 || r > 10 {
		return 0
	}
	return r
}

// guidPattern associates a regexp capturing the id value with the id kind it
// represents, covering Plex's various GUID schemes.
type guidPattern struct {
	re   *regexp.Regexp
	kind string
}

var guidPatterns = []guidPattern{
	{regexp.MustCompile(`com\.plexapp\.agents\.imdb://([^?]+)`), "imdb"},
	{regexp.MustCompile(`com\.plexapp\.agents\.themoviedb://([^?]+)`), "tmdb"},
	{regexp.MustCompile(`com\.plexapp\.agents\.thetvdb://([^?]+)`), "tvdb"},
	{regexp.MustCompile(`imdb://([^?]+)`), "imdb"},
	{regexp.MustCompile(`tmdb://([^?]+)`), "tmdb"},
	{regexp.MustCompile(`tvdb://([^?]+)`), "tvdb"},
}

var barePlexPattern = regexp.MustCompile(`^plex://(.+)$`)

// IDsFromGUID parses the common Plex GUID scheme patterns into a normalized id
// map. Unrecognized schemes produce an empty map, never an error.
func IDsFromGUID(guid string) map[string]string {
	out := map[string]string{}
	g := normStr(guid)
	if g == "" {
		return out
	}
	for _, p := range guidPatterns {
		if m := p.re.FindStringSubmatch(g); m != nil {
			if nv, ok := normalizeID(p.kind, m[1]); ok {
				out[p.kind] = nv
			}
			return out
		}
	}
	if m := barePlexPattern.FindStringSubmatch(g); m != nil {
		if nv, ok := normalizeID("plex", m[1]); ok {
			out["plex"] = nv
		}
	}
	return out
}

// jellyfinProviderIDKeyMap maps the casing variants Jellyfin uses in its
// ProviderIds payload onto this package's normalized id kind names.
var jellyfinProviderIDKeyMap = map[string]string{
	"imdb": "imdb", "Imdb": "imdb",
	"tmdb": "tmdb", "Tmdb": "tmdb",
	"tvdb": "tvdb", "Tvdb": "tvdb",
	"trakt": "trakt", "Trakt": "trakt",
	"simkl": "simkl", "Simkl": "simkl",
	"anidb": "anidb", "Anidb": "anidb", "AniDB": "anidb",
	"anilist": "anilist", "Anilist": "anilist", "AniList": "anilist",
	"kitsu": "kitsu", "Kitsu": "kitsu",
	"mal": "mal", "Mal": "mal", "MAL": "mal", "MyAnimeList": "mal",
}

// IDsFromJellyfinProviderIDs maps Jellyfin's ProviderIds payload onto this
// package's normalized id kind names, applying the same normalization rules as
// every other id source.
func IDsFromJellyfinProviderIDs(pids map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range pids {
		kind, ok := jellyfinProviderIDKeyMap[k]
		if !ok {
			continue
		}
		if nv, ok := normalizeID(kind, v); ok {
			out[kind] = nv
		}
	}
	return out
}

// CoalesceIDs returns the first non-empty value per id kind across the given
// maps, walking KeyPriority first, then IDKinds, so callers can layer several
// id sources (top-level ids, a guid, show_ids, ...) with deterministic wins.
func CoalesceIDs(maps ...map[string]string) map[string]string {
	out := map[string]string{}
	seen := map[string]struct{}{}
	order := append(append([]string{}, KeyPriority...), "jellyfin")
	for _, kind := range order {
		seen[kind] = struct{}{}
		for _, m := range maps {
			if v, ok := m[kind]; ok && v != "" {
				out[kind] = v
				break
			}
		}
	}
	for _, m := range maps {
		for k, v := range m {
			if _, done := seen[k]; done {
				continue
			}
			if _, have := out[k]; !have && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

// MergeIDs combines two id maps, preferring values already present in old and
// filling gaps from new, walking KeyPriority first and then sweeping any
// remaining kinds from both maps (old first).
func MergeIDs(old, new map[string]string) map[string]string {
	out := map[string]string{}
	handled := map[string]struct{}{}
	for _, kind := range KeyPriority {
		handled[kind] = struct{}{}
		if v, ok := old[kind]; ok && v != "" {
			out[kind] = v
			continue
		}
		if v, ok := new[kind]; ok && v != "" {
			out[kind] = v
		}
	}
	for k, v := range old {
		if _, done := handled[k]; done {
			continue
		}
		if v != "" {
			out[k] = v
		}
	}
	for k, v := range new {
		if _, done := handled[k]; done {
			continue
		}
		if _, have := out[k]; !have && v != "" {
			out[k] = v
		}
	}
	return out
}

// itoa is a tiny alias kept local to avoid importing strconv in callers that
// only need int-to-string for key construction.
func itoa(n int) string { return strconv.Itoa(n) }
