// Package models defines the canonical data types shared by every part of
// codetective: issues, per-agent execution results, and the scan/fix result
// documents that callers persist and feed back into the fix workflow.
//
// An Issue is immutable except for its Status field, which only the fix
// workflow transitions. ScanResult owns the category map keyed by producing
// agent; its total issue count is always derived from the category lists and
// never taken from external input.
package models
