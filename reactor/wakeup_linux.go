//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

const (
	wakeFDCloexec  = unix.EFD_CLOEXEC
	wakeFDNonblock = unix.EFD_NONBLOCK
)

// createWakeFd creates an eventfd for wake-up notifications. The same fd
// serves as both read and write end.
func createWakeFd(initval uint, flags int) (int, int, error) {
	fd, err := unix.Eventfd(initval, flags)
	return fd, fd, err
}

// closeWakeFd closes the wake eventfd.
func closeWakeFd(wakeFd, wakeWriteFd int) error {
	if wakeFd >= 0 {
		_ = unix.Close(wakeFd)
	}
	return nil
}

// drainWakeFd drains pending wake-ups from an eventfd.
func drainWakeFd(wakeFd int) {
	if wakeFd < 0 {
		return
	}
	var buf [8]byte
	for {
		if _, err := unix.Read(wakeFd, buf[:]); err != nil {
			break
		}
	}
}
