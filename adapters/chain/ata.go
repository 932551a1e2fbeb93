package chain

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const pdaMarker = "ProgramDerivedAddress"

var (
	// TokenProgramID is the SPL token program
	TokenProgramID = mustAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramID is the associated token account program
	AssociatedTokenProgramID = mustAddress("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	errOnCurve   = errors.New("derived address is on the ed25519 curve")
	errNoAddress = errors.New("unable to find a viable program address")
)

// Address is a 32-byte Solana account address
type Address [32]byte

// ParseAddress decodes a base58 account address
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("invalid address %q: got %d bytes", s, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func mustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsOnCurve reports whether b decodes to an ed25519 point. Program derived
// addresses must not.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds with the program id and rejects results
// that land on the curve.
func CreateProgramAddress(seeds [][]byte, program Address) (Address, error) {
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var out Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return Address{}, errOnCurve
	}
	return out, nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the first
// off-curve address with its bump.
func FindProgramAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return Address{}, 0, errNoAddress
}

// AssociatedTokenAddress derives the associated token account of wallet for mint
func AssociatedTokenAddress(wallet, mint string) (string, error) {
	w, err := ParseAddress(wallet)
	if err != nil {
		return "", err
	}
	m, err := ParseAddress(mint)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{w[:], TokenProgramID[:], m[:]}, AssociatedTokenProgramID)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}
