package netceiver

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// newPipe creates the non-blocking transport stream pipe of an adapter. It
// returns the read end for the host and the raw write end for the data bridge.
func newPipe(id int, size int) (*os.File, int, int, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, -1, 0, fmt.Errorf("cannot create pipe for adapter %d: %w", id, err)
	}

	actual := 0
	if size > 0 {
		n, err := unix.FcntlInt(uintptr(fds[1]), unix.F_SETPIPE_SZ, size)
		if err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, -1, 0, fmt.Errorf("cannot set pipe size %d for adapter %d: %w", size, id, err)
		}
		actual = n
	}

	reader := os.NewFile(uintptr(fds[0]), fmt.Sprintf("netcv-dvr%d", id))
	return reader, fds[1], actual, nil
}

func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}
