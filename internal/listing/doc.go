// Package listing defines the types, capabilities, and error taxonomy shared by
// the extraction, fetch, and session packages.
//
// The extraction heuristic only ever sees a Document: a queryable snapshot of a
// rendered page. Browser automation lives behind that interface so the
// heuristic can be exercised against fixtures without a running Chrome.
package listing
