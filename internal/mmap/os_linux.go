//go:build linux

package mmap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func osReserve(size int) ([]byte, func([]byte) error, error) {
	flags := unix.MAP_ANON | unix.MAP_PRIVATE | unix.MAP_NORESERVE

	data, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, flags)
	if err != nil {
		return nil, nil, err
	}

	return data, unix.Munmap, nil
}

func osMapShared(fd int, size int) ([]byte, func([]byte) error, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED

	data, err := unix.Mmap(fd, 0, size, prot, flags)
	if err != nil {
		return nil, nil, err
	}

	return data, unix.Munmap, nil
}

func osMapFixed(addr unsafe.Pointer, fd int, fileOff int64, length int) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED | unix.MAP_FIXED

	ret, err := unix.MmapPtr(fd, fileOff, addr, uintptr(length), prot, flags)
	if err != nil {
		return err
	}
	if ret != addr {
		// MAP_FIXED never relocates; anything else means the kernel ignored the hint.
		_ = unix.MunmapPtr(ret, uintptr(length))
		return unix.EFAULT
	}
	return nil
}

func osAdvise(data []byte, pattern AccessPattern) error {
	if len(data) == 0 {
		return nil
	}

	var advice int
	switch pattern {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	case AccessDontNeed:
		advice = unix.MADV_DONTNEED
	default:
		advice = unix.MADV_NORMAL
	}

	err := unix.Madvise(data, advice)
	if err == unix.EINVAL {
		// Likely a page alignment issue - ignore it
		return nil
	}
	return err
}
