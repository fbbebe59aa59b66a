// Package flow defines the data model for a guided document-intake flow:
// the step sequence, the fields each step collects, and the value
// conventions shared by the engine packages.
package flow
