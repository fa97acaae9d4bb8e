package jwks

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/authcore/pkg/keygen"
)

// NewKid returns a fresh opaque key id
func NewKid() string {
	return uuid.New().String()
}

// FromKeyPair builds the private JWK of a generated key.
func FromKeyPair(kid string, pair *keygen.KeyPair, exp time.Time) (JWK, error) {
	enc, err := keygen.Encode(pair.Private)
	if err != nil {
		return JWK{}, fmt.Errorf("failed to encode key %s: %w", kid, err)
	}
	jwk := JWK{
		Kid: kid,
		Kty: KeyTypeRSA,
		Use: UseSig,
		Alg: AlgRS256,
		N:   enc["n"],
		E:   enc["e"],
		D:   enc["d"],
		P:   enc["p"],
		Q:   enc["q"],
		DP:  enc["dp"],
		DQ:  enc["dq"],
		QI:  enc["qi"],
	}
	for _, other := range pair.Others {
		o, err := keygen.Encode(other)
		if err != nil {
			return JWK{}, fmt.Errorf("failed to encode key %s: %w", kid, err)
		}
		jwk.Oth = append(jwk.Oth, OtherPrime{R: o["r"], D: o["d"], T: o["t"]})
	}
	return jwk.WithExp(exp), nil
}

// sortByExpiry orders keys with the latest expiry first; keys without
// expiry come last, ties broken by kid.
func sortByExpiry(keys []JWK) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i].Exp, keys[j].Exp
		switch {
		case a == nil && b == nil:
			return keys[i].Kid < keys[j].Kid
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return keys[i].Kid < keys[j].Kid
		default:
			return a.After(*b)
		}
	})
}
