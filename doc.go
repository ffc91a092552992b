// Package ber implements a tree codec for ITU-T X.690 Basic Encoding Rules
// (BER) together with a length-prefixed session/endpoint transport for
// carrying BER-encoded messages over TCP.
//
// The codec lives in the [bertlv.dev/ber/tlv] (identifier, length and header
// octets) and [bertlv.dev/ber/node] (the typed node tree, readers and
// writers) packages. The transport lives in [bertlv.dev/ber/message],
// [bertlv.dev/ber/session] and [bertlv.dev/ber/router].
//
// This package holds the vocabulary shared by all of them: tag classes, the
// universal tag-number assignments from X.690 §8, sizing limits and the
// error taxonomy.
package ber
