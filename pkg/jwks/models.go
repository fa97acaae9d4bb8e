package jwks

import (
	"crypto/rsa"
	"math/big"
	"time"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/keygen"
)

const (
	KeyTypeRSA = "RSA"
	UseSig     = "sig"
	AlgRS256   = "RS256"
)

// JWK is an RSA signing key as defined in RFC 7517 / RFC 7518 §6.3.
// Private parameters are empty in the public form.
type JWK struct {
	// Key ID - unique identifier for this key
	Kid string `json:"kid"`

	// Key Type - always "RSA"
	Kty string `json:"kty"`

	// Public Key Use - always "sig"
	Use string `json:"use"`

	// Algorithm - always "RS256"
	Alg string `json:"alg"`

	// RSA public key modulus and exponent (base64url encoded)
	N string `json:"n"`
	E string `json:"e"`

	// RSA private parameters (base64url encoded)
	D   string       `json:"d,omitempty"`
	P   string       `json:"p,omitempty"`
	Q   string       `json:"q,omitempty"`
	DP  string       `json:"dp,omitempty"`
	DQ  string       `json:"dq,omitempty"`
	QI  string       `json:"qi,omitempty"`
	Oth []OtherPrime `json:"oth,omitempty"`

	// Exp is when the key stops being valid for verification. It is
	// persisted but never published.
	Exp *time.Time `json:"exp,omitempty"`
}

// OtherPrime holds the parameters of the third and later primes.
type OtherPrime struct {
	R string `json:"r"`
	D string `json:"d"`
	T string `json:"t"`
}

// JWKS is the published form: {"keys": [...]} with public fields only.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Metadata describes a persisted key set.
type Metadata struct {
	Created        time.Time `json:"created"`
	Expired        time.Time `json:"expired"`
	FlushThreshold int       `json:"flush_threshold"`
	// Current is the kid used for signing; only written to the private file.
	Current string `json:"current,omitempty"`
}

// Set is the content of one keystore file.
type Set struct {
	Metadata Metadata `json:"metadata"`
	Keys     []JWK    `json:"keys"`
}

// IsPrivate reports whether the key carries its private exponent
func (k JWK) IsPrivate() bool {
	return k.D != ""
}

// Expired reports whether the key has an expiry at or before now
func (k JWK) Expired(now time.Time) bool {
	return k.Exp != nil && !k.Exp.After(now)
}

// Public returns a copy stripped of private parameters and expiry.
func (k JWK) Public() JWK {
	return JWK{Kid: k.Kid, Kty: k.Kty, Use: k.Use, Alg: k.Alg, N: k.N, E: k.E}
}

// WithExp returns a copy of k expiring at exp
func (k JWK) WithExp(exp time.Time) JWK {
	exp = exp.UTC()
	k.Exp = &exp
	return k
}

// withExpOf copies the expiry of src onto k
func (k JWK) withExpOf(src JWK) JWK {
	if src.Exp != nil {
		return k.WithExp(*src.Exp)
	}
	return k
}

// PublicKey decodes n and e.
func (k JWK) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != KeyTypeRSA {
		return nil, errors.Newf(errors.KindCorruptJWK, "key %s: unsupported key type %q", k.Kid, k.Kty)
	}
	n, err := keygen.Base64URLToInt(k.N)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindCorruptJWK, "key %s: modulus", k.Kid)
	}
	e, err := keygen.Base64URLToInt(k.E)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindCorruptJWK, "key %s: exponent", k.Kid)
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, errors.Newf(errors.KindCorruptJWK, "key %s: exponent out of range", k.Kid)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// PrivateKey decodes and validates the full private key.
func (k JWK) PrivateKey() (*rsa.PrivateKey, error) {
	if !k.IsPrivate() {
		return nil, errors.Newf(errors.KindCorruptJWK, "key %s has no private part", k.Kid)
	}
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}
	fields := []string{k.D, k.P, k.Q}
	for _, o := range k.Oth {
		fields = append(fields, o.R)
	}
	ints := make([]*big.Int, len(fields))
	for i, f := range fields {
		if ints[i], err = keygen.Base64URLToInt(f); err != nil {
			return nil, errors.Wrapf(err, errors.KindCorruptJWK, "key %s: private parameter", k.Kid)
		}
	}
	key := &rsa.PrivateKey{PublicKey: *pub, D: ints[0], Primes: ints[1:]}
	if err := key.Validate(); err != nil {
		return nil, errors.Wrapf(err, errors.KindCorruptJWK, "key %s", k.Kid)
	}
	key.Precompute()
	return key, nil
}
