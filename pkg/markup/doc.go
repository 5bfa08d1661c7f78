// Package markup supplies the positional element streams the renderer walks.
//
// A template is a flat sequence of raw text and component tags. Only tags
// that bind a component are elements of their own; all other HTML is raw
// text and is copied through verbatim:
//
//	<p>Hello <span pc:id="name">placeholder</span>!</p>
//
// becomes raw("<p>Hello "), open(name), raw("placeholder"), close(name),
// raw("!</p>").
//
// Sources load templates by key. DirSource reads files, MapSource serves
// strings, Cache keeps parsed markup in an LRU, and Watcher invalidates
// cache entries when template files change on disk.
package markup
