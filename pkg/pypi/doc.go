// Package pypi is a client for PEP 503/691 simple package indexes.
//
// The Client fetches project file listings over the JSON simple API,
// retries transient failures, and caches responses on disk. Candidates
// turns a listing into an ordered, environment-filtered list of
// installable files for the resolver.
package pypi
