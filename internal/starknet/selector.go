package starknet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// selectorMask keeps the low 250 bits of the Keccak-256 digest, which is the
// starknet_keccak definition used for entry point selectors.
var selectorMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// SelectorFromName derives the entry point selector for a Cairo function
// name: Keccak-256 of the ASCII name, truncated to 250 bits.
func SelectorFromName(name string) *big.Int {
	digest := crypto.Keccak256([]byte(name))
	selector := new(big.Int).SetBytes(digest)
	return selector.And(selector, selectorMask)
}

// SplitUint256 splits an unsigned integer into the (low, high) 128-bit limbs
// expected by Cairo's uint256 calldata layout.
func SplitUint256(value *big.Int) (low, high *big.Int) {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	low = new(big.Int).And(value, mask)
	high = new(big.Int).Rsh(value, 128)
	return low, high
}
