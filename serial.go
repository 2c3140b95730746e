// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package avrboot

import (
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

// OpenSerial opens the named serial port for a programming session:
// 8 data bits, 1 stop bit, no minimum read size. With no minimum read
// size a Read returns 0 bytes once timeout elapses without data, which
// is the timeout convention the protocol receive loops build on.
//
// The returned handle is exclusively owned by one in-progress session
// and must be closed on every exit path.
func OpenSerial(name string, baud uint, timeout time.Duration) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:              name,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(timeout / time.Millisecond),
	}
	return serial.Open(options)
}
