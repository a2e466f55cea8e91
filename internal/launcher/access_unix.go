//go:build unix

package launcher

import "golang.org/x/sys/unix"

const (
	accessRead  = unix.R_OK
	accessWrite = unix.W_OK
)

func access(path string, mode uint32) bool {
	return unix.Access(path, mode) == nil
}
