package pagecycle

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/page"
	"github.com/vango-dev/pagecycle/pkg/target"
)

var (
	// ErrBadRequest is returned for malformed request parameters.
	ErrBadRequest = errors.New("pagecycle: bad request")

	// ErrNotFound is returned when a request addresses nothing.
	ErrNotFound = errors.New("pagecycle: not found")
)

// pageMaps is the part of a session the processor needs.
type pageMaps interface {
	PageMap(name string) *page.Map
}

// Processor decodes requests into targets.
//
// Stored pages are addressed with query parameters:
//
//	/?pagemap=main&page=3&version=2                          render a version
//	/?page=3&version=2&component=form:save&listener=click    invoke a listener
//	/?page=3&component=panel                                 render one component
//
// New pages are created at /p/{type} and shared resources are served at
// /r/{name}. The root path without parameters creates the home page.
type Processor struct {
	env      *target.Env
	homeType string
}

// NewProcessor creates a processor. homeType may be empty.
func NewProcessor(env *target.Env, homeType string) *Processor {
	return &Processor{env: env, homeType: homeType}
}

// DecodeParameters implements cycle.Processor.
func (p *Processor) DecodeParameters(c *cycle.Cycle) (cycle.Parameters, error) {
	req := c.Request()
	q := req.Params()
	params := cycle.Parameters{
		PageMap:   q.Get(target.ParamPageMap),
		PageID:    page.NoID,
		Version:   page.Latest,
		Component: q.Get(target.ParamComponent),
		Listener:  q.Get(target.ParamListener),
		Merge:     q.Get(target.ParamMerge) == "1",
		Values:    q,
	}

	var err error
	if params.PageID, err = intParam(q.Get(target.ParamPage), page.NoID); err != nil {
		return params, fmt.Errorf("%w: page: %v", ErrBadRequest, err)
	}
	if params.Version, err = intParam(q.Get(target.ParamVersion), page.Latest); err != nil {
		return params, fmt.Errorf("%w: version: %v", ErrBadRequest, err)
	}
	if params.Listener != "" && params.Component == "" {
		return params, fmt.Errorf("%w: listener without component", ErrBadRequest)
	}

	if u := req.URL(); u != nil {
		if name, ok := target.TrimPrefix(u.Path, target.BookmarkablePrefix); ok {
			params.Bookmarkable = name
		} else if name, ok := target.TrimPrefix(u.Path, target.ResourcePrefix); ok {
			params.Resource = name
		} else if u.Path != "/" && u.Path != "" {
			return params, fmt.Errorf("%w: %s", ErrNotFound, u.Path)
		}
	}
	return params, nil
}

// ResolveTarget implements cycle.Processor.
func (p *Processor) ResolveTarget(c *cycle.Cycle, params cycle.Parameters) (cycle.Target, error) {
	if params.Resource != "" {
		return &target.Resource{Registry: p.env.Resources, Name: params.Resource}, nil
	}

	maps, ok := c.Session().(pageMaps)
	if !ok {
		return nil, fmt.Errorf("pagecycle: session %T holds no page maps", c.Session())
	}
	m := maps.PageMap(params.PageMap)

	if params.Bookmarkable != "" {
		return p.bookmarkable(m, params.Bookmarkable, params)
	}

	if params.PageID == page.NoID {
		if p.homeType == "" {
			return nil, ErrNotFound
		}
		return p.bookmarkable(m, p.homeType, params)
	}

	pg, err := m.Get(params.PageID, params.Version)
	if err != nil {
		return nil, err
	}
	switch {
	case params.Listener != "":
		return &target.Listener{
			Env:      p.env,
			Map:      m,
			Page:     pg,
			Path:     params.Component,
			Listener: params.Listener,
			Merge:    params.Merge,
		}, nil
	case params.Component != "":
		return &target.Component{Env: p.env, Map: m, Page: pg, Path: params.Component}, nil
	default:
		return &target.Page{Env: p.env, Map: m, Page: pg}, nil
	}
}

func (p *Processor) bookmarkable(m *page.Map, typeID string, params cycle.Parameters) (cycle.Target, error) {
	if !p.env.Pages.Has(typeID) {
		return nil, fmt.Errorf("%w: %q", page.ErrUnknownType, typeID)
	}
	return &target.Bookmarkable{Env: p.env, Map: m, Type: typeID, Params: pageParams(params)}, nil
}

// pageParams strips the processor's own parameters from the query.
func pageParams(params cycle.Parameters) url.Values {
	out := make(url.Values, len(params.Values))
	for k, v := range params.Values {
		switch k {
		case target.ParamPageMap, target.ParamPage, target.ParamVersion,
			target.ParamComponent, target.ParamListener, target.ParamMerge:
			continue
		}
		out[k] = v
	}
	return out
}

func intParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}
