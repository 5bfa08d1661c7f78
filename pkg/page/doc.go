// Package page implements pages, the per-session page map and the page type
// registry.
//
// A Page wraps a component tree and records undo information for it.
// Asking for an older version replays that information on a copy:
//
//	p, err := pages.Get(id, 3)
//	switch {
//	case errors.Is(err, page.ErrPageExpired):
//	    // page evicted from the map
//	case errors.Is(err, version.ErrVersionUnavailable):
//	    // page exists, history for version 3 discarded
//	}
//
// A Map keeps at most MaxPages pages and evicts the least recently
// accessed one.
package page
