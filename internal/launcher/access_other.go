//go:build !unix

package launcher

import "os"

const (
	accessRead  = 4
	accessWrite = 2
)

func access(path string, mode uint32) bool {
	flag := os.O_RDONLY
	if mode == accessWrite {
		flag = os.O_WRONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
