// Package keygen generates the multi-prime RSA signing keys held by the
// keystore.
package keygen

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/tendant/authcore/pkg/errors"
)

const (
	MinKeySizeBits = 2048
	MaxKeySizeBits = 4096
	MinNumPrimes   = 2

	// PublicExponent is the fixed RSA public exponent e.
	PublicExponent = 65537
)

// Numbers maps JWK field names (n, e, d, p, q, dp, dq, qi) to decimal strings.
type Numbers map[string]string

// KeyPair is the result of one generation. Public carries n and e, Private
// carries every RSA parameter. Primes beyond the second are listed in Others.
type KeyPair struct {
	Key     *rsa.PrivateKey
	Public  Numbers
	Private Numbers
	Others  []Numbers // r, d, t per additional prime
}

// Generate produces an RSA key of bits size from primes distinct primes.
func Generate(bits, primes int) (*KeyPair, error) {
	if bits < MinKeySizeBits || bits > MaxKeySizeBits {
		return nil, errors.Newf(errors.KindInvalidKeyParam, "key size %d not in [%d, %d]", bits, MinKeySizeBits, MaxKeySizeBits)
	}
	if primes < MinNumPrimes {
		return nil, errors.Newf(errors.KindInvalidKeyParam, "number of primes %d below %d", primes, MinNumPrimes)
	}

	key, err := rsa.GenerateMultiPrimeKey(rand.Reader, primes, bits)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInvalidKeyParam, "failed to generate %d-bit key with %d primes", bits, primes)
	}
	if key.E != PublicExponent {
		return nil, errors.Newf(errors.KindInvalidKeyParam, "unexpected public exponent %d", key.E)
	}
	return FromPrivateKey(key), nil
}

// FromPrivateKey derives the decimal JWK representation of an existing key.
func FromPrivateKey(key *rsa.PrivateKey) *KeyPair {
	key.Precompute()
	e := big.NewInt(int64(key.E))
	p, q := key.Primes[0], key.Primes[1]
	one := big.NewInt(1)

	dp := new(big.Int).Mod(key.D, new(big.Int).Sub(p, one))
	dq := new(big.Int).Mod(key.D, new(big.Int).Sub(q, one))
	qi := new(big.Int).ModInverse(q, p)

	pair := &KeyPair{
		Key: key,
		Public: Numbers{
			"n": key.N.String(),
			"e": e.String(),
		},
		Private: Numbers{
			"n":  key.N.String(),
			"e":  e.String(),
			"d":  key.D.String(),
			"p":  p.String(),
			"q":  q.String(),
			"dp": dp.String(),
			"dq": dq.String(),
			"qi": qi.String(),
		},
	}

	product := new(big.Int).Mul(p, q)
	for _, r := range key.Primes[2:] {
		d := new(big.Int).Mod(key.D, new(big.Int).Sub(r, one))
		t := new(big.Int).ModInverse(product, r)
		pair.Others = append(pair.Others, Numbers{"r": r.String(), "d": d.String(), "t": t.String()})
		product.Mul(product, r)
	}
	return pair
}

// DecimalToBase64URL converts a decimal integer string to unpadded
// big-endian base64url, the encoding JWK numeric fields use.
func DecimalToBase64URL(dec string) (string, error) {
	n, ok := new(big.Int).SetString(dec, 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("invalid decimal integer %q", dec)
	}
	return base64.RawURLEncoding.EncodeToString(n.Bytes()), nil
}

// Base64URLToInt decodes an unpadded base64url JWK field.
func Base64URLToInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url integer: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty base64url integer")
	}
	return new(big.Int).SetBytes(b), nil
}

// Encode converts every field of nums to base64url.
func Encode(nums Numbers) (map[string]string, error) {
	out := make(map[string]string, len(nums))
	for name, dec := range nums {
		enc, err := DecimalToBase64URL(dec)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		out[name] = enc
	}
	return out, nil
}
