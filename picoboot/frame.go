// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package picoboot

import (
	"errors"
	"fmt"
)

// Command is one of the operation codes the frame protocol supports.
// Any other value is a defect in the caller, not a runtime input.
type Command byte

// Command constants
const (
	// CmdData stages two data bytes for the next fill.
	CmdData = Command(0x00)
	// CmdFillBuffer stores the staged word in the device's temporary
	// page buffer at the address the frame carries.
	CmdFillBuffer = Command(0x01)
	// CmdErasePage erases the flash page at the address the frame
	// carries.
	CmdErasePage = Command(0x03)
	// CmdWritePage writes the filled page buffer to the flash page at
	// the address the frame carries.
	CmdWritePage = Command(0x05)
)

var cmd2String = map[Command]string{
	CmdData:       "CMD_DATA",
	CmdFillBuffer: "CMD_FILL_BUFFER",
	CmdErasePage:  "CMD_ERASE_PAGE",
	CmdWritePage:  "CMD_WRITE_PAGE",
}

func (c Command) String() string {
	if str, ok := cmd2String[c]; ok {
		return str
	}
	return fmt.Sprintf("0x%X", byte(c))
}

const (
	// frameSize is the wire size of every frame.
	frameSize = 4

	// ack is the only acknowledgement byte the bootloader sends. One
	// acknowledgement follows every accepted frame.
	ack byte = 0x00
)

var ErrBadFrame = errors.New("The received frame was malformed")

// Frame is the fixed 4-byte unit of the picoboot wire format: two data
// bytes, their checksum and a command code. Check is always
// DataLo XOR DataHi XOR Command; MakeFrame computes it, callers never
// supply it. Frames are transient: constructed, sent, discarded.
type Frame struct {
	DataLo  byte
	DataHi  byte
	Check   byte
	Command Command
}

// MakeFrame builds a checksummed frame carrying two data bytes and a
// command code.
func MakeFrame(lo, hi byte, cmd Command) Frame {
	return Frame{
		DataLo:  lo,
		DataHi:  hi,
		Check:   lo ^ hi ^ byte(cmd),
		Command: cmd,
	}
}

// Bytes serializes the frame in wire order.
func (f Frame) Bytes() []byte {
	return []byte{f.DataLo, f.DataHi, f.Check, byte(f.Command)}
}

// ParseFrame decodes a 4-byte wire frame, verifying its checksum.
func ParseFrame(buf []byte) (Frame, error) {
	if len(buf) != frameSize {
		return Frame{}, ErrBadFrame
	}
	if buf[2] != buf[0]^buf[1]^buf[3] {
		return Frame{}, ErrBadFrame
	}
	return Frame{
		DataLo:  buf[0],
		DataHi:  buf[1],
		Check:   buf[2],
		Command: Command(buf[3]),
	}, nil
}
