//go:build darwin

package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	wakeFDCloexec  = unix.O_CLOEXEC
	wakeFDNonblock = unix.O_NONBLOCK
)

// createWakeFd creates a self-pipe for wake-up notifications. Returns the
// read end and the write end separately; initval and flags are accepted
// only to keep the signature identical to the Linux eventfd variant.
func createWakeFd(initval uint, flags int) (int, int, error) {
	_ = initval
	_ = flags

	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	cleanup := func() {
		_ = syscall.Close(fds[0])
		_ = syscall.Close(fds[1])
	}

	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])

	if err := syscall.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}

	return fds[0], fds[1], nil
}

// closeWakeFd closes both ends of the wake pipe.
func closeWakeFd(wakeFd, wakeWriteFd int) error {
	if wakeFd >= 0 {
		_ = syscall.Close(wakeFd)
	}
	if wakeWriteFd >= 0 && wakeWriteFd != wakeFd {
		_ = syscall.Close(wakeWriteFd)
	}
	return nil
}

// drainWakeFd drains pending bytes from the self-pipe's read end.
func drainWakeFd(wakeFd int) {
	if wakeFd < 0 {
		return
	}
	var buf [64]byte
	for {
		n, err := syscall.Read(wakeFd, buf[:])
		if err != nil || n <= 0 {
			break
		}
	}
}
