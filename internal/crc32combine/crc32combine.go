// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package crc32combine combines two CRC-32 (IEEE) checksums computed over
// adjacent byte ranges into the checksum of their concatenation, without
// re-reading either range. This is what lets the scheduler verify a gzip
// member's trailer CRC after decoding its chunks in parallel and
// reassembling them in order (spec.md §4.11).
package crc32combine

// gf2MatrixTimes multiplies a GF(2) vector by a GF(2) matrix, represented as
// an array of rows where each row is the set of bits it would XOR together.
func gf2MatrixTimes(mat [32]uint32, vec uint32) uint32 {
	var sum uint32
	for i := 0; vec != 0; i++ {
		if vec&1 != 0 {
			sum ^= mat[i]
		}
		vec >>= 1
	}
	return sum
}

// gf2MatrixSquare squares a GF(2) matrix, storing the result in square.
func gf2MatrixSquare(square, mat *[32]uint32) {
	for n := 0; n < 32; n++ {
		square[n] = gf2MatrixTimes(*mat, mat[n])
	}
}

// Combine returns the CRC-32 (IEEE polynomial, as used by gzip and zlib) of
// the concatenation of two byte ranges, given the CRC of each computed
// independently and the length in bytes of the second range.
func Combine(crc1, crc2 uint32, len2 int64) uint32 {
	if len2 == 0 {
		return crc1
	}

	var even, odd [32]uint32

	// odd[n] is the CRC-32 polynomial bit vector shifted left by one bit,
	// i.e. the matrix operation "multiply by x, mod the CRC polynomial".
	const poly = uint32(0xedb88320)
	odd[0] = poly
	row := uint32(1)
	for n := 1; n < 32; n++ {
		odd[n] = row
		row <<= 1
	}

	gf2MatrixSquare(&even, &odd) // even = odd^2 = shift by two bits
	gf2MatrixSquare(&odd, &even) // odd = even^2 = shift by four bits

	crc1n := crc1
	for {
		gf2MatrixSquare(&even, &odd)
		if len2&1 != 0 {
			crc1n = gf2MatrixTimes(even, crc1n)
		}
		len2 >>= 1
		if len2 == 0 {
			break
		}
		gf2MatrixSquare(&odd, &even)
		if len2&1 != 0 {
			crc1n = gf2MatrixTimes(odd, crc1n)
		}
		len2 >>= 1
		if len2 == 0 {
			break
		}
	}

	return crc1n ^ crc2
}
