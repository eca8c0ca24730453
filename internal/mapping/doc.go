// Package mapping maps object backing buffers into the caller's address space.
//
// A Region is a reserved range of virtual memory. Establishing a region for an
// object id looks the object up (creating it on first use), allocates its
// buffer if it has none, and then installs the buffer's frames into the
// region one page at a time with MAP_FIXED mappings of the physical memory
// file. Installed pages alias the buffer: writes through any region are
// visible to every other region of the same object.
//
// The page loop stops at the first page that fails to install and returns an
// error matching ErrAgain. Pages installed before the failure stay mapped and
// are reported by Region.Installed; the caller decides whether to retry or
// unmap.
//
// Resolve and Install split the same work for callers in another process:
// Resolve runs on the side that owns the registry and returns the frame plan,
// Install runs the page loop against a memfd the caller received separately.
package mapping
