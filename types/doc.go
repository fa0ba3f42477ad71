// Package types defines the shared contracts of the libcluster library.
//
// It exists so that the registry backends and internal packages can depend
// on the core interfaces (Logger, Registry, MetricsCollector, ...) without
// depending on the root cluster package, which would create an import cycle.
// The root package re-exports the commonly used definitions via type aliases,
// so most applications only ever import github.com/bbcarchdev/libcluster.
package types
