package ledger

import "math/big"

// mulDiv computes a * b / c over big.Int so the intermediate product
// cannot overflow uint64. Rounding direction is explicit because the
// policy differs per call site: share issuance and asset payouts round
// down (in the pool's favor), share burns round up (in the pool's
// favor). c must be nonzero.
func mulDiv(a, b, c uint64, roundUp bool) uint64 {
	n := new(big.Int).SetUint64(a)
	n.Mul(n, new(big.Int).SetUint64(b))

	d := new(big.Int).SetUint64(c)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))

	if roundUp && r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return ^uint64(0)
	}
	return q.Uint64()
}
