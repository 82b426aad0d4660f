//go:build unix

package atomicio

import "golang.org/x/sys/unix"

// syncDir fsyncs the directory entry after a rename so the rename itself
// is durable, not just the file contents.
func syncDir(dir string) {
	fd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		return
	}
	defer unix.Close(fd)
	_ = unix.Fsync(fd)
}
