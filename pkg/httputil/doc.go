// Package httputil provides HTTP supporting infrastructure shared by the
// package index client and the metadata extractor: a file-based response
// cache and a bounded retry policy with exponential backoff.
//
// The cache stores raw bytes keyed by SHA-256 of the caller's key, which
// makes URLs and other arbitrary strings safe to use directly. The retry
// policy is an explicit value (attempt cap, initial delay, retryable-error
// predicate) composed into the call path by clients rather than hidden
// behind wrappers, so tests can substitute an aggressive schedule.
package httputil
