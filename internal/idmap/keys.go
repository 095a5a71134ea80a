package idmap

import (
	"fmt"
	"strings"
)

// bestIDKey walks KeyPriority and returns the first "kind:value" token present
// in idmap, lowercased. Returns ("", false) if nothing matches.
func bestIDKey(ids map[string]string) (string, bool) {
	for _, kind := range KeyPriority {
		if v, ok := ids[kind]; ok && v != "" {
			return strings.ToLower(fmt.Sprintf("%s:%s", kind, v)), true
		}
	}
	return "", false
}

// titleYearKey builds the fallback key used when no id is present. Anime is
// folded into "show" in this fallback only, matching the distilled spec.
func titleYearKey(it Item) string {
	typ := it.Type
	if typ == "anime" {
		typ = TypeShow
	}
	year := ""
	if it.Year != 0 {
		year = itoa(it.Year)
	}
	return fmt.Sprintf("%s|title:%s|year:%s", typ, strings.ToLower(it.Title), year)
}

// seFragment returns the "#season:N" or "#sNNeMM" composite fragment for
// season/episode items, or "" if the item doesn't carry a valid season (and,
// for episodes, episode) number.
func seFragment(it Item) string {
	switch it.Type {
	case TypeSeason:
		if !it.SeasonSet {
			return ""
		}
		return fmt.Sprintf("#season:%d", it.Season)
	case TypeEpisode:
		if !it.SeasonSet || !it.EpisodeSet {
			return ""
		}
		return fmt.Sprintf("#s%02de%02d", it.Season, it.Episode)
	default:
		return ""
	}
}

// showIDFrom resolves the parent show's id map for a season/episode item,
// preferring the explicit ShowIDs field and falling back to the item's own ids.
func showIDFrom(it Item) map[string]string {
	if len(it.ShowIDs) > 0 {
		return it.ShowIDs
	}
	return it.IDs
}

// CanonicalKey computes the deterministic per-item key. It is total: it never
// errors and falls back to "unknown:" when nothing usable is present.
func CanonicalKey(it Item) string {
	if it.Type == TypeSeason || it.Type == TypeEpisode {
		if showKey, ok := bestIDKey(showIDFrom(it)); ok {
			if frag := seFragment(it); frag != "" {
				return showKey + frag
			}
		}
	}
	if k, ok := bestIDKey(it.IDs); ok {
		return k
	}
	if it.Title != "" {
		return titleYearKey(it)
	}
	return "unknown:"
}

// UnifiedKeysFromIDs returns the set of "kind:value" tokens, lowercase, for
// every id kind present in the map.
func UnifiedKeysFromIDs(ids map[string]string) map[string]struct{} {
	out := map[string]struct{}{}
	for kind, v := range ids {
		if v == "" {
			continue
		}
		out[strings.ToLower(fmt.Sprintf("%s:%s", kind, v))] = struct{}{}
	}
	return out
}

// KeysForItem returns the alias key set: every id-level token present, the
// title/year fallback, and the SxxExx composite when applicable.
func KeysForItem(it Item) map[string]struct{} {
	out := UnifiedKeysFromIDs(it.IDs)
	if it.Title != "" {
		out[titleYearKey(it)] = struct{}{}
	}
	if it.Type == TypeSeason || it.Type == TypeEpisode {
		if showKey, ok := bestIDKey(showIDFrom(it)); ok {
			if frag := seFragment(it); frag != "" {
				out[showKey+frag] = struct{}{}
			}
		}
	}
	return out
}

// AnyKeyOverlap reports whether two key sets share at least one element.
func AnyKeyOverlap(a, b map[string]struct{}) bool {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for k := range small {
		if _, ok := big[k]; ok {
			return true
		}
	}
	return false
}

// preferredIDOrder is the per-destination-provider preference used by
// HasIDsFor to decide whether an item is "enriched enough" for that provider.
var preferredIDOrder = map[string][]string{
	"TRAKT":    {"trakt", "tmdb", "imdb", "tvdb"},
	"SIMKL":    {"imdb", "tmdb", "tvdb", "slug"},
	"PLEX":     {"plex", "guid", "imdb", "tmdb", "tvdb", "trakt"},
	"JELLYFIN": {"jellyfin", "imdb", "tmdb", "tvdb", "slug"},
}

var defaultPreferredIDOrder = []string{"tmdb", "imdb", "tvdb", "trakt", "slug"}

// HasIDsFor reports whether ids carries at least one of the id kinds a given
// destination provider prefers, recovered from the source project's per-provider
// enrichment-ordering table.
func HasIDsFor(provider string, ids map[string]string) bool {
	order, ok := preferredIDOrder[strings.ToUpper(provider)]
	if !ok {
		order = defaultPreferredIDOrder
	}
	for _, kind := range order {
		if v, ok := ids[kind]; ok && v != "" {
			return true
		}
	}
	return false
}

// Minimal produces the normalized minimal item representation used throughout
// the orchestrator: type/title/year/ids plus whichever optional passthrough
// fields the item carries.
func Minimal(it Item) Item {
	n := Normalize(it)
	out := Item{
		Type:  n.Type,
		Title: n.Title,
		Year:  n.Year,
		IDs:   n.IDs,
	}
	if n.Type == TypeSeason || n.Type == TypeEpisode {
		out.ShowIDs = n.ShowIDs
		out.SeriesTitle = n.SeriesTitle
		out.Season = n.Season
		out.SeasonSet = n.SeasonSet
		out.Episode = n.Episode
		out.EpisodeSet = n.EpisodeSet
	}
	if n.RatingSet {
		out.Rating = n.Rating
		out.RatingSet = true
	}
	out.RatedAt = n.RatedAt
	out.Watched = n.Watched
	out.WatchedAt = n.WatchedAt
	out.LibraryID = n.LibraryID
	return out
}
