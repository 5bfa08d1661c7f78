package target

import (
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names understood by the request processor.
const (
	ParamPageMap   = "pagemap"
	ParamPage      = "page"
	ParamVersion   = "version"
	ParamComponent = "component"
	ParamListener  = "listener"

	// ParamMerge asks a listener request to fold its changes into the
	// current version instead of opening a new one.
	ParamMerge = "merge"
)

// Path prefixes for bookmarkable pages and shared resources.
const (
	BookmarkablePrefix = "/p/"
	ResourcePrefix     = "/r/"
)

// PageURL addresses a stored page at a version.
func PageURL(pageMap string, id, ver int) string {
	return "/?" + pageQuery(pageMap, id, ver).Encode()
}

// ListenerURL addresses a listener of the component at path.
func ListenerURL(pageMap string, id, ver int, path, listener string) string {
	q := pageQuery(pageMap, id, ver)
	q.Set(ParamComponent, path)
	q.Set(ParamListener, listener)
	return "/?" + q.Encode()
}

// ComponentURL addresses a single component for re-rendering.
func ComponentURL(pageMap string, id, ver int, path string) string {
	q := pageQuery(pageMap, id, ver)
	q.Set(ParamComponent, path)
	return "/?" + q.Encode()
}

// BookmarkableURL addresses a new page of the given type.
func BookmarkableURL(typeID string, params url.Values) string {
	u := BookmarkablePrefix + url.PathEscape(typeID)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// ResourceURL addresses a shared resource.
func ResourceURL(name string) string {
	return ResourcePrefix + url.PathEscape(name)
}

// TrimPrefix returns the path segment after prefix, unescaped.
func TrimPrefix(path, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return "", false
	}
	name, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return name, true
}

func pageQuery(pageMap string, id, ver int) url.Values {
	q := url.Values{}
	if pageMap != "" {
		q.Set(ParamPageMap, pageMap)
	}
	q.Set(ParamPage, strconv.Itoa(id))
	q.Set(ParamVersion, strconv.Itoa(ver))
	return q
}
