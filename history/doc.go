package history

// history records one entry per send attempt in an embedded key/value
// store, so a run of interoperability tests can be compared against earlier
// runs. The package only deals in opaque entries; what a send "means" is
// the runner's business. History is optional: with no directory configured,
// the no-op store stands in and nothing touches disk.
