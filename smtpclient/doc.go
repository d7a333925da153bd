package smtpclient

// smtpclient speaks the SMTP command/reply dialogue itself rather than
// delegating to a client library, because the dialogue is the thing under
// test: this tool exists to push raw messages at servers and observe every
// line the server says back. It handles one connection at a time, with
// strictly sequential command/reply exchanges, and leaves TLS and
// authentication to tools that need them.
