// Package physmem models the physical memory that object backing buffers are
// carved from.
//
// Memory is one memfd truncated to the configured capacity. The file is split
// into page frames; a frame is addressed by its page frame number (PFN), the
// frame's byte offset in the file divided by the page size. Any process that
// holds the memfd can map a frame, which is what makes a backing buffer
// shareable across address spaces.
//
// Free frames are tracked in a Roaring bitmap. Runs of contiguous frames are
// found with rank queries, so a run of n frames starting at s is free when the
// bitmap holds exactly n values in [s, s+n).
//
// Freed frames are decommitted with fallocate(PUNCH_HOLE) which releases the
// host memory and guarantees that the next owner reads zeroes. If the host
// refuses to punch holes the frames are cleared through the kernel view
// instead.
package physmem
