// Package errors provides the failure taxonomy shared by the keystore, the
// token codec, the authorization evaluator, the RPC client and the HTTP edge.
//
// Every failure carries a Kind. Packages wrap lower-level errors with the
// kind that describes them, and only the edge turns a kind into an HTTP
// response:
//
//	if err := codec.Verify(ctx, raw, audience); err != nil {
//		switch errors.HTTPStatus(errors.KindOf(err)) {
//		case http.StatusUnauthorized:
//			// authentication-failure
//		}
//	}
//
// Kind to HTTP status mapping:
//   - UnknownKid, Decode, Expired, Immature, InvalidIat, InvalidAudience,
//     InvalidIssuer, MissingClaim → 401
//   - PermissionDenied, QuotaExceeded, CsrfMismatch → 403
//   - PayloadTooLarge → 413
//   - RpcUnavailable, RpcTimeout, RateLimited, ShuttingDown → 503
//   - everything else → 500
package errors
