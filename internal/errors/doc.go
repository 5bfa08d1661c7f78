// Package errors provides structured, actionable error messages for the
// pagecycle CLI and configuration layer.
//
// Runtime packages report failures with their own sentinel and typed errors
// (render.MarkupError, version.ErrVersionUnavailable, ...). This package turns
// those into coded diagnostics that point at the offending template line:
//
//	err := errors.New("E201").
//	    WithLocation("markup/Home.html", 14, 9).
//	    WithSuggestion(`Add the component in code or remove pc:id="count"`)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E201: Unable to resolve component
//	//
//	//   markup/Home.html:14:9
//	//
//	//     13 │ <body>
//	//   → 14 │   <span pc:id="count">0</span>
//	//        │         ^
//	//
//	//   Hint: Add the component in code or remove pc:id="count"
//
// # Error Categories
//
//   - config: configuration loading and validation
//   - markup: template structure problems
//   - render: component/markup divergence found while rendering
//   - version: page history problems
//   - cli: command line usage
package errors
