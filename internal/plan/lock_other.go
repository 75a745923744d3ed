//go:build !unix

package plan

// lockFile is a no-op where flock(2) is unavailable. Concurrent writers on
// these platforms are not serialized.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
