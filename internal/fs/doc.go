// Package fs abstracts the file operations used for benchmark logs and the
// local log sink so tests can inject write, sync and close failures.
package fs
