//go:build !unix

package jwks

import "context"

// lockFile is a no-op where flock is unavailable; staging plus rename still
// keeps readers from seeing partial files.
func lockFile(ctx context.Context, path string, exclusive bool) (func(), error) {
	return func() {}, ctx.Err()
}
