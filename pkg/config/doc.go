// Package config loads the Settings value every authcore service is built
// from.
//
// Settings are read with cleanenv: an optional configuration file first,
// then environment variables. Nothing here is global; the result of Load is
// passed to the keystore, codec, RPC and edge constructors.
//
//	settings, err := config.Load(os.Getenv("AUTHCORE_CONFIG"))
//	if err != nil {
//		var verrs config.ValidationErrors
//		if errors.As(err, &verrs) {
//			// report every invalid field
//		}
//	}
//
// Keystore settings mirror the persisted key handlers:
//   - KEYSTORE_SECRET_FILEPATH, KEYSTORE_PUBKEY_FILEPATH: private and public JWK set files
//   - KEYSTORE_EXPIRED_AFTER_DAYS: key lifespan, capped by KEYSTORE_MAX_EXPIRED_AFTER_DAYS
//   - KEYSTORE_FLUSH_THRESHOLD: signings after which the current key rotates
//   - KEYSTORE_PUBKEY_URL, KEYSTORE_PUBKEY_LIFESPAN_HRS: remote JWKS and its cache TTL
//
// CORS origins are given as a tag=origin list:
//
//	ALLOWED_ORIGIN=web=https://shop.example.com,staff=https://staff.example.com
package config
