// Package protocol implements the fixed-width framing spoken over the
// registration, request, response and notification FIFOs.
//
// Every message starts with a single ASCII opcode byte:
//
//   - '1' CONNECT: followed by three 40-byte NUL-padded paths (request,
//     response, notification), 121 bytes in total
//   - '2' DISCONNECT: no payload
//   - '3' SUBSCRIBE, '4' UNSUBSCRIBE: followed by a 41-byte NUL-padded key
//
// Responses are two bytes: the opcode being acknowledged and a status digit.
// Notifications are newline-terminated text records of the form
// "(key,value)" or "(key,DELETED)".
//
// The byte layout is shared with existing C clients and must not change.
package protocol
