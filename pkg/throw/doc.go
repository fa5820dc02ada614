// Package throw implements a request/response protocol that carries
// three-dimensional numeric arrays over TCP.
//
// Every message is a 52 byte header followed by an optional raw payload:
//
//	offset size field
//	0      4    checksum, opaque
//	4      4    width, int32
//	8      4    height, int32
//	12     4    depth, int32
//	16     4    bytes per element, int32
//	20     32   command, ASCII, right-padded
//
// All integers and payload elements are little endian. Payload holds
// width*height*depth elements of 1, 2, 4 or 8 bytes (uint8, uint16, float32
// and float64) and is omitted when that product is zero. A header with
// height == 1 and depth == 1 marks payload as an encoded image file, which
// is decoded with an ImageCodec (see ImageShortcut).
//
// Server side, each accepted connection is served by a Session that reads a
// request, calls Handler and writes the response before reading the next
// request. Client is the synchronous counterpart with one request in flight.
package throw
