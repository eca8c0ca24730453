//go:build !linux

package npheap

// Physical memory is a memfd and pages are installed with MAP_FIXED, so the
// heap only builds on Linux.
var _ int = "npheap: only linux is supported"
