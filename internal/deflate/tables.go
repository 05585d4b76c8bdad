// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package deflate

// WindowSize is the size, in bytes, of deflate's sliding window (spec.md §3).
const WindowSize = 32768

// MarkerBase is the first marker-symbol value; values in
// [MarkerBase, MarkerBase+WindowSize) denote "byte at window position
// v-MarkerBase", to be resolved once a real window is known.
const MarkerBase = 256

// precodeOrder is the fixed order in which the 3-bit HCLEN precode lengths
// appear in a dynamic block header (RFC 1951 §3.2.7).
var precodeOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// lengthBase and lengthExtraBits give the base value and extra-bit count for
// length symbols 257..285 (RFC 1951 §3.2.5).
var lengthBase = [29]int{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13,
	15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}
var lengthExtraBits = [29]uint{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1,
	1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

// distBase and distExtraBits give the base value and extra-bit count for
// distance symbols 0..29 (RFC 1951 §3.2.5). Symbol 29 with its maximum extra
// bits value yields 24577+8191 == 32768, the largest legal distance.
var distBase = [30]int{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25,
	33, 49, 65, 97, 129, 193, 257, 385, 513, 769,
	1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}
var distExtraBits = [30]uint{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3,
	4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// fixedLitLenLengths builds the fixed literal/length code lengths (RFC 1951
// §3.2.6): 8 for [0,144), 9 for [144,256), 7 for [256,280), 8 for [280,288).
func fixedLitLenLengths() []uint8 {
	l := make([]uint8, 288)
	for i := 0; i < 144; i++ {
		l[i] = 8
	}
	for i := 144; i < 256; i++ {
		l[i] = 9
	}
	for i := 256; i < 280; i++ {
		l[i] = 7
	}
	for i := 280; i < 288; i++ {
		l[i] = 8
	}
	return l
}

// fixedDistLengths builds the fixed 5-bit distance code (RFC 1951 §3.2.6).
func fixedDistLengths() []uint8 {
	l := make([]uint8, 30)
	for i := range l {
		l[i] = 5
	}
	return l
}
