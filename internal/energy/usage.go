package energy

// MilliwattSeconds returns the energy of mv millivolts at ma milliamps over
// dms milliseconds.
//
// The exact value is (mv/1000) * (ma/1000) * dms, but truncating each
// division on its own throws away most of a small current (5900 mA would
// become 5 A, a 15% error). The divisor 10^6 is split into 2^6 * 5^6: the
// powers of two are applied as shifts before multiplying (mv is always large,
// ma can be as low as ~6000, hence 16 and 4), and the single division by 5^6
// comes last. Intermediates are 64-bit, so the division can follow the
// multiplication by dms without overflow.
func MilliwattSeconds(mv, ma uint32, dms uint64) uint64 {
	return uint64(mv>>4) * uint64(ma>>2) * dms / 15625
}
