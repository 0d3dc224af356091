package linker

import "unsafe"

func unsafeSlice(addr uintptr, size int) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

func hostAddrOf(buf []byte, offset int) uintptr {
	return uintptr(unsafe.Pointer(&buf[offset]))
}
