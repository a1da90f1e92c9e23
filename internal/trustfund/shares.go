package trustfund

import (
	"fmt"
	"math/bits"
)

// validateShares checks a beneficiary set is payable and returns the total
// weight.
func validateShares(shares []BeneficiaryShare) (uint64, error) {
	if len(shares) == 0 {
		return 0, fmt.Errorf("%w: no beneficiaries", ErrInvalidShares)
	}
	var total uint64
	for i, s := range shares {
		if s.Address == "" {
			return 0, fmt.Errorf("%w: share %d has no address", ErrInvalidShares, i)
		}
		var carry uint64
		total, carry = bits.Add64(total, s.Weight, 0)
		if carry != 0 {
			return 0, fmt.Errorf("%w: total weight overflows", ErrInvalidShares)
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: all weights are zero", ErrInvalidShares)
	}
	return total, nil
}

// calcShares splits balance by weight. Each share gets
// floor(balance*weight/total); the rounding remainder goes to the largest
// weight, the first listed on ties, so the amounts always sum to balance.
func calcShares(balance uint64, shares []BeneficiaryShare) ([]uint64, error) {
	total, err := validateShares(shares)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(shares))
	var sum uint64
	largest := 0
	for i, s := range shares {
		// balance*weight fits in 128 bits and the quotient is at most
		// balance, so hi < total and Div64 cannot panic.
		hi, lo := bits.Mul64(balance, s.Weight)
		q, _ := bits.Div64(hi, lo, total)
		out[i] = q
		sum += q
		if s.Weight > shares[largest].Weight {
			largest = i
		}
	}
	out[largest] += balance - sum
	return out, nil
}
