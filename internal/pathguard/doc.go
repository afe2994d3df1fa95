// Package pathguard keeps eviction away from system directories.
//
// A Guard holds a set of protected roots. IsProtected normalizes a candidate
// (absolute, cleaned, symlinks resolved) and reports whether it equals a root
// or sits beneath one, comparing whole path segments so /etcetera is not
// mistaken for /etc. Anything that cannot be normalized is treated as
// protected. Every mutating operation in cleanupd asks the guard first.
package pathguard
