package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MicahParks/jwkset"
)

// ErrNoPublicKeys is returned by JWKS for symmetric methods.
var ErrNoPublicKeys = errors.New("signing method has no public keys")

// JWKS renders the active and still-retained verification keys as a JSON Web
// Key Set. Private material is never included.
func (m *KeyManager) JWKS(ctx context.Context) (json.RawMessage, error) {
	if !m.method.Asymmetric() {
		return nil, ErrNoPublicKeys
	}

	alg := jwkAlg(m.method)
	set := m.keys.Load()
	keys := []*signingKey{set.active}
	now := m.now()
	for _, k := range set.retired {
		if m.inGrace(k, now) {
			keys = append(keys, k)
		}
	}

	store := jwkset.NewMemoryStorage()
	for _, k := range keys {
		jwk, err := jwkset.NewJWKFromKey(k.verify, jwkset.JWKOptions{
			Metadata: jwkset.JWKMetadataOptions{
				ALG: alg,
				KID: k.kid,
				USE: jwkset.UseSig,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("jwk for kid %q: %w", k.kid, err)
		}
		if err := store.KeyWrite(ctx, jwk); err != nil {
			return nil, err
		}
	}
	return store.JSONPublic(ctx)
}

func jwkAlg(m SigningMethod) jwkset.ALG {
	switch m {
	case MethodRS256:
		return jwkset.AlgRS256
	case MethodES256:
		return jwkset.AlgES256
	default:
		return jwkset.AlgEdDSA
	}
}
