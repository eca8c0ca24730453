// Package npheap provides a shared heap of memory objects that are mapped
// directly into the caller's address space.
//
// Objects are identified by a numeric id and backed by page frames of one
// memfd. The first mapping of an id allocates its buffer; every later mapping
// of the same id, in this process or another, aliases the same frames, so a
// write through one mapping is immediately visible through all of them.
//
// # Quick Start
//
//	dev, _ := npheap.Open(npheap.WithStrategy(npheap.StrategyVirtual))
//	defer dev.Close()
//
//	heap := npheap.NewClient(dev)
//	defer heap.Close()
//
//	ctx := context.Background()
//	_ = heap.Lock(ctx, 7)
//	buf, _ := heap.Alloc(7, 8192)
//	copy(buf, "hello")
//	_ = heap.Unlock(7)
//
// # Commands
//
// Besides mapping, a Device understands four commands, issued through
// Device.Ioctl with a fixed 24 byte Request:
//
//   - CmdLock blocks until the device-wide lock is free and takes it.
//   - CmdUnlock releases the lock. There is no owner check.
//   - CmdGetSize returns an object's size, or 0 for an unknown id.
//   - CmdDelete frees an object's buffer. Deleting an unknown id succeeds.
//
// The lock is advisory. Mapping, GetSize and Delete never wait on it;
// cooperating callers bracket their critical sections with Lock and Unlock.
//
// # Mapping
//
// Device.Mmap takes a page aligned offset whose page index is the object id,
// and a length that is walked in whole pages. Pages are installed one at a
// time. If a page fails, the pages before it stay mapped and the error
// matches ErrAgain.
//
// # Backing Strategies
//
//   - StrategyVirtual: one frame per page, not necessarily contiguous.
//   - StrategyPages: one naturally aligned power-of-two run of frames.
//   - StrategySlab: slots in per-size-class slabs, reused after delete.
//
// # Cross-Process Use
//
// Package remote serves a Device over a unix socket and passes the memfd to
// clients, which install the frames in their own address space.
package npheap
