package utils

import (
	"unsafe"
)

// BytesToString converts without copying. The caller must not mutate the
// backing slice afterwards.
func BytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

func StringToBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
