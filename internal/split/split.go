package split

import (
	"fmt"
	"math/bits"
)

// Total is the basis-point denominator: 10000 bps == 100%.
const Total = 10_000

// Valid reports whether the purchase and owner shares add up to exactly Total.
// The sum is taken in a wider type so that u16 wraparound cannot fake a match.
func Valid(purchaseBps, ownerBps uint16) bool {
	return uint32(purchaseBps)+uint32(ownerBps) == Total
}

// Pools is the division of an amount between the ticket-purchase pool and
// the owner pool.
type Pools struct {
	Purchase uint64
	Owner    uint64
}

// Apply divides amount by purchaseBps, rounding the purchase share down.
// The owner pool receives the remainder so no unit is lost.
func Apply(amount uint64, purchaseBps uint16) (Pools, error) {
	if purchaseBps > Total {
		return Pools{}, fmt.Errorf("purchase share %d bps exceeds %d", purchaseBps, Total)
	}
	hi, lo := bits.Mul64(amount, uint64(purchaseBps))
	purchase, _ := bits.Div64(hi, lo, Total)
	return Pools{Purchase: purchase, Owner: amount - purchase}, nil
}
