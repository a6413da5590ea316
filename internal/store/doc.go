// Package store defines the read model for live run progress. Implementations
// live in other packages; this package must not import concrete sinks or
// transports.
package store
