// Package backing allocates the buffers that hold object data.
//
// A Buffer is a set of page frames in physical memory (see package physmem).
// Three strategies are available, chosen when the Allocator is built:
//
//   - Pages: a naturally aligned power-of-two run of frames. The PFN of page i
//     is the first PFN plus i.
//   - Slab: size classes of power-of-two page counts. Each class keeps slabs
//     of several slots carved from one run, and freed slots are zeroed and
//     reused by the class. The PFN of page i is the slot's first PFN plus i.
//   - Virtual: one frame per page with no contiguity guarantee. The PFN of
//     each page is looked up individually.
//
// Every buffer is zero-filled when acquired. Release must be called exactly
// once per buffer; a second call returns ErrDoubleRelease and frees nothing.
package backing
