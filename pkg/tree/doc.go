// Package tree holds the component tree of a page.
//
// Components live in an arena and are addressed by Index. A component is a
// container when it owns a child map, and it exposes listeners when its
// Listeners map is non-empty; there is no type hierarchy.
//
//	t := tree.New("home")
//	form, _ := t.Add(t.Root(), tree.Spec{ID: "form", Container: true})
//	name, _ := t.Add(form, tree.Spec{ID: "name", Model: "Ada"})
//	t.Path(name) // "form:name"
//
// Every mutation is reported to an optional observer together with the
// component's effective versioning status, which is how pages record undo
// information. Undo itself works on a Clone: Detach, Reattach, RestoreModel
// and RestoreFlag change the copy without reporting anything.
package tree
