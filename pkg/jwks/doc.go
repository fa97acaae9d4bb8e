// Package jwks manages the RSA signing keys behind token issuance and
// verification.
//
// A KeyStore holds one current signing key plus the overlap keys that were
// current before it. Rotation is driven by two policies: the age of the
// current key relative to its lifespan, and the number of signings made
// with it. A demoted key keeps verifying until its exp passes.
//
// Two sets are persisted through a Repository: the private set (with
// metadata naming the current kid) and the public set published to
// verifiers. FileRepository writes JSON files atomically under an advisory
// lock and keeps a bounded number of backups; PostgresRepository stores the
// same document in a jsonb column.
//
//	ks, err := jwks.NewFileKeyStore(ctx, cfg.Keystore, jwks.WithGenerator(keygen.NewPool(2)))
//	rotator := jwks.NewRotator(ks, cfg.Keystore.CheckInterval)
//	if err := rotator.Start(ctx); err != nil {
//		return err
//	}
//	defer rotator.Stop()
//
//	jwks.NewHandler(ks, cfg.Keystore.CacheTTL()).Routes(r)
//
// Verifiers in other processes use a Fetcher, which caches a remote JWKS
// document and refetches once on an unknown kid.
package jwks
