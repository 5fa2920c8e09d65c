// Package deviceconfig is the JSON configuration document a panel serves
// on GET /config and accepts, partially, on POST /configsave.
//
// The panel firmware does not keep array order, so documents are compared
// after sorting every array by a type-specific key. Diff returns only the
// top-level sections that differ; sections left out of a Partial are not
// touched by the panel.
package deviceconfig
