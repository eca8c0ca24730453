// Package registry keeps the live objects of the heap ordered by id.
//
// Objects are held in a slice sorted ascending by id. Lookups binary search
// the slice and inserts shift the tail, so get-or-create places a new object
// at the head, in the middle or at the tail as its id requires. The slice is
// guarded by the registry's own lock; that lock only covers structural
// changes and is unrelated to the heap's client-visible exclusion primitive.
//
// An Object owns its backing buffer. Delete unlinks the object first and then
// releases the buffer under the object's lock, so two concurrent deletes of
// the same id release at most once: the loser never finds the object.
package registry
