// Package mmap provides the virtual-memory primitives the heap is built on.
//
// # Overview
//
// Three kinds of mappings are used:
//
//   - Reservations: anonymous PROT_NONE ranges that hold a span of the address
//     space. Pages are installed into a reservation one at a time.
//   - Shared file mappings: a read-write MAP_SHARED view of a whole file. The
//     physical memory layer keeps one of these over its memfd.
//   - Fixed page installs: MAP_FIXED mappings of a file range placed at an
//     exact address inside a reservation.
//
// # Usage
//
//	r, err := mmap.Reserve(4 * pageSize)
//	if err != nil { ... }
//	defer r.Close()
//
//	// Place file page 7 at the first page of the reservation.
//	err = r.MapFixed(0, fd, 7*int64(pageSize), pageSize)
//
// # Platform Support
//
// Linux only. Reservations and fixed installs rely on mmap(2) semantics that
// other platforms do not share with memfd.
//
// # Thread Safety
//
// Close is idempotent and protected by atomic operations. Callers must ensure
// no goroutines access Bytes() after Close() returns.
package mmap
