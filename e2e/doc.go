package e2e

// e2e contains integration tests that drive the runner against an
// in-process SMTP server, covering the whole path from a settings record
// to messages received on the wire. Unit-level dependencies shared with
// other packages live in smtptest, not here.
