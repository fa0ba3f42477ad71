// Package testing provides test utilities for the libcluster library,
// following Go's convention of a dedicated helper package (similar to
// net/http/httptest).
//
// Key utilities:
//   - NewTestLogger: a Logger that writes through testing.T
//
// It pairs with the registry/memory package: open several members on one
// memory.Hub to exercise joins, departures, and expiry without an external
// registry.
//
// Example usage:
//
//	import clustertest "github.com/bbcarchdev/libcluster/testing"
//
//	func TestMyComponent(t *testing.T) {
//	    logger := clustertest.NewTestLogger(t)
//	    // ...
//	}
package testing
