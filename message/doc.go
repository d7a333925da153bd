package message

// message rewrites the Date and Message-ID header lines of a raw RFC 5322
// message without touching any other byte. It deliberately does not parse
// the message beyond the header/body boundary and the two target fields:
// the files we send exist to exercise a receiving server, so everything we
// don't rewrite must reach the wire exactly as it sits on disk.
