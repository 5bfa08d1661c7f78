// Package render walks a markup stream against a component tree.
//
// Raw markup is copied through in document order. Each component tag is
// bound to a component by looking its id up among the children of the
// container being rendered, then by asking the application resolvers in
// registration order, then by asking the container and its ancestors whose
// behavior implements ComponentResolver, nearest first. A tag nobody claims
// is an error; markup is never dropped silently.
//
// A full page render writes nothing when it fails. With CheckRendering set,
// every visible component that did not render during the pass is reported
// in a single ConsistencyError. Framework-inserted components that did not
// render are removed from the tree instead.
//
// Behaviors are plain values stored on tree nodes. The engine consults them
// through the BodyRenderer, TagModifier and ComponentResolver interfaces.
package render
