package protocol

// This package implements the encoding and decoding of the events that Herald
// exchanges with it's peers.
//
// This protocol aims to be
//
// - easy to implement from any language that has a JSON library
// - self describing
// - symmetric, the server and the client speak exactly the same protocol
//
// - `Event`   - A named unit of traffic with an optional payload.
// - `Payload` - Any JSON value. Herald never looks inside it.
// - `ID`      - A correlation identifier, present when the sender wants an
//               acknowledgement, and on the acknowledgement itself.
// - `Ack`     - Marks an event as the acknowledgement of an earlier event
//               carrying the same ID.
//
// === General Syntax
//
// - every frame is a single JSON object
// - on stream transports (TCP) frames are `\n` delimited, an optional `\r`
//   before the `\n` is ignored
// - on message transports (WebSocket) every message is one frame
//
// For example
//   ```
//     {"event":"welcome","payload":{"message":"Connected !!!!"}}
//   ```
//
// === Acknowledgements
//
// A sender that wants a reply attaches an `id`. The receiver may answer at
// most once with an event of the same name and id, flagged with `ack`
//
//   ```
//     > {"event":"ping","payload":{},"id":7}
//     < {"event":"ping","payload":{"pong":true},"id":7,"ack":true}
//   ```
//
// IDs are only unique per connection and per direction, so a peer must never
// match an incoming request ID against its own outstanding requests. That's
// what the `ack` flag is for.
//
// === Malformed frames
//
// Frames that are not valid JSON objects, that have no `event` name, or that
// carry an `id`/`ack` of the wrong type are reported as a DecodeError and are
// dropped by the receiver. Nothing is sent back to the peer.
//
