//go:build linux && (amd64 || arm64)

/*
 *
 * Copyright 2025 The TSR Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package handoff

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The futex word lives in a MAP_SHARED mapping and the waiter and waker are
// different processes, so these use the shared (non-private) futex ops.

// Futex operation codes from the Linux UAPI (linux/futex.h); x/sys/unix does
// not export these.
const (
	futexOpWait = 0 // FUTEX_WAIT
	futexOpWake = 1 // FUTEX_WAKE
)

// futexWait waits for the value at addr to change from val. It returns when
// the value no longer equals val, when another process calls futexWake on
// the same address, or when the call is interrupted.
//
// Callers must re-check their logical condition after this returns; spurious
// wakeups are possible.
func futexWait(addr *uint32, val uint32) error {
	// Re-check atomically before entering the syscall. This closes the
	// lost-wake race where the peer bumps the word and wakes us between our
	// snapshot and futex entry.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWait),
		uintptr(val),
		0, // timeout: infinite
		0,
		0,
	)

	switch errno {
	case 0:
		return nil
	case unix.EAGAIN, unix.EINTR:
		// Value changed before the wait, or a signal interrupted it.
		return nil
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// futexWaitTimeout waits on addr until the value changes from val or the
// timeout elapses. timeoutNs <= 0 waits forever. Returns ErrFutexTimeout on
// expiry.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	if timeoutNs <= 0 {
		return futexWait(addr, val)
	}

	if atomic.LoadUint32(addr) != val {
		return nil
	}

	ts := unix.NsecToTimespec(timeoutNs)
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWait),
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)

	switch errno {
	case 0:
		return nil
	case unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// futexWake wakes up to n waiters blocked on addr and returns the number of
// waiters actually woken.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWake),
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
