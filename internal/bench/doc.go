// Package bench drives a heap with concurrent workers and logs what each
// worker wrote so the logs can be checked against each other afterwards.
//
// Every worker opens its own client and runs two phases over the same range
// of object ids. In the store phase it locks, sizes (keeping an existing
// size, otherwise picking a random one), maps, fills the object with a
// repeated random number and logs an S record. In the delete phase it walks
// every other id from a random start, logs a D record with the current
// contents, deletes the object and stores a fresh one.
//
// Records are tab separated:
//
//	S	<worker>	<usec>	<id>	<len>	<data>
//	D	<worker>	<usec>	<id>	<len>	<data>
package bench
