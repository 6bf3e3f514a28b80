// Package core provides the spec-driven import engine.
//
// The engine turns a loaded [Table] into cleaned, validated records. It holds
// no I/O of its own: loaders build the Table, exporters consume the
// [ImportResult]. It can be used by the HTTP server, the CLI, or tests without
// modification.
//
// # Pipeline
//
// [Engine.Run] applies the stages of a [spec.Spec] in a fixed order:
//
//  1. Static columns: each rule copies one source column to its target,
//     trims it, applies case transforms and casts it (integer, float, date).
//     A rule whose source column is missing is skipped.
//  2. Dynamic columns: source columns are matched by a left-anchored pattern
//     and reshaped in map, pivot or year_month_map mode.
//  3. Computed columns: expressions over the columns built so far, evaluated
//     with the closed grammar of package expr.
//  4. Required fields: rows missing a required static target become
//     [RowError]s and are left out of the records.
//  5. Normalization: NaN becomes nil, timestamps become ISO-8601 text, and
//     the marker pass sets the former flag (see [MarkerReducer]).
//
// Output column order is static, then dynamic, then computed.
//
// # Spec Registry
//
// The HTTP server registers every spec document found in its spec directory:
//
//	n, err := core.RegisterDir("specs")
//	def, ok := core.Get("employees")
//	result, err := def.Engine.Run(ctx, table)
//
// # Error Handling
//
// Data problems never abort a run: unparsable cells become nil and missing
// required values become row errors. Only a malformed spec (a *spec.Error) or
// a cancelled context fails a run. Technical errors are mapped to
// user-friendly messages with [MapError]:
//
//   - SPEC001-SPEC003: spec errors
//   - FILE001-FILE006: file errors (size, format, header, sheet)
//   - DB001-DB006: database errors
//   - IMP001-IMP004: import errors (busy, cancelled, timeout)
package core
