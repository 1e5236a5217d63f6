package protocol

// This package implements the framing and the payload codec for the
// protocol that Parley uses between its relay server and its clients.
//
// This protocol aims to be
//
// - easy to implement
// - cheap to parse
// - unambiguous about record boundaries on a TCP stream
//
// === PDU framing
//
// Every transmission is one PDU: a 2-byte big-endian total length (the value
// counts the header itself) followed by the payload. The payload's first
// byte is the flag; the rest of the payload is flag-specific. A PDU is
// always written with a single Write call so that concurrent writers
// multiplexed onto one connection can never interleave a header with a
// foreign payload.
//
// === Payload shapes
//
// Handles are length-prefixed with one byte and are 1..100 bytes long.
// Text is NUL-terminated, and the NUL travels on the wire.
//
//   flag  1  C->S  register:        flag, hlen(1), handle
//   flag  2  S->C  accepted:        flag
//   flag  3  S->C  rejected:        flag
//   flag  4  C<>S  broadcast:       flag, shlen(1), sender, text NUL
//   flag  5  C<>S  unicast:         flag, shlen(1), sender, n(1)=1,
//                                   dhlen(1), dest, text NUL
//   flag  6  C<>S  multicast:       flag, shlen(1), sender, n(1),
//                                   (dhlen(1), dest) x n, text NUL
//   flag  7  S->C  unknown dest:    flag, hlen(1), handle
//   flag 10  C->S  roster request:  flag
//   flag 11  S->C  roster header:   flag, count(4, big-endian)
//   flag 12  S->C  roster entry:    flag, hlen(1), handle
//   flag 13  S->C  roster end:      flag
//
// === Sessions
//
// A client registers its handle (flag 1) as its very first packet and the
// server answers with flag 2 or flag 3. Only registered connections may
// relay traffic. A roster request is answered with a flag 11 header
// carrying the count, one flag 12 packet per registered handle, and a
// flag 13 terminator; the server emits that sequence contiguously on the
// requesting connection.
//
// Note: the server relays flag 4/5/6 payloads verbatim. It never rewrites
//       or synthesizes message content; the only packets it originates are
//       the registration replies, the flag 7 errors, and the roster reply.
