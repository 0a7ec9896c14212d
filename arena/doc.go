// Package arena suballocates a single fixed-size backing allocation, typically a block of
// GPU device memory, into aligned byte ranges.
//
// An Arena requests one allocation of its full size from a MemoryProvider when it is created
// and never grows. The range [0, size) is always covered by an offset-ordered chain of blocks,
// each either free or in use. AllocateMemory carves a best-fit free block into an in-use block
// and an optional free remainder; FreeMemory returns a block to the free pool and immediately
// merges it with any free neighbours, so no two adjacent blocks are ever both free.
//
// The best-fit search is keyed on size + alignment - 1, the most any free block could need to
// satisfy the requested alignment, but only size plus the actual alignment padding of the chosen
// block is consumed from it. This avoids a second search pass at the cost of sometimes passing
// over a smaller block that would have fit.
//
// An Arena is not safe for concurrent use. It does no locking of its own and expects a single
// owner to serialize every call. It also does not know whether the device is still using memory
// that has been freed: waiting on fences or for device idle before FreeMemory, or before writing
// over host-visible memory that has been handed out again, is the caller's responsibility.
package arena
