// Package scanner builds the file index for one target directory at a time.
//
// A scan walks the target top-down. With a max_depth of N, directories more
// than N levels below the target are removed (or reported on a dry run) and
// not descended into, and files in the remaining directories are collected.
// Without a max_depth only the target's own regular files are collected and
// nothing is removed. The collected entries then replace the target's index
// rows in a single transaction.
//
// Symlinks and special files are never indexed. Unreadable entries are logged
// and counted; only an unreadable target root or a failed commit fails the
// target.
package scanner
