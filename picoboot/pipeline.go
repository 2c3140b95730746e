// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package picoboot

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/openchirp/avrboot"
)

const (
	// maxFrames is the acknowledgement window size. Acknowledgements
	// buffer in the host's serial FIFO while a window is in flight, so
	// the window must not exceed the FIFO or acknowledgements get
	// dropped.
	maxFrames = 8

	// numAttempts is the number of empty reads tolerated before a
	// receive is declared timed out.
	numAttempts = 3
)

// pipeline batches frames toward the device and collects their
// acknowledgements. Frames accumulate until the window holds maxFrames,
// go out as one contiguous write, and are then acknowledged one byte
// per frame in send order. A pipeline instance belongs to a single
// in-progress operation; there is no state shared between operations.
type pipeline struct {
	port    io.ReadWriter
	log     zerolog.Logger
	pending []byte // wire bytes of buffered, unsent frames
	frames  int
}

func newPipeline(port io.ReadWriter, log zerolog.Logger) *pipeline {
	return &pipeline{
		port:    port,
		log:     log,
		pending: make([]byte, 0, maxFrames*frameSize),
	}
}

// send appends f to the window, flushing once the window is full.
func (pl *pipeline) send(f Frame) error {
	pl.pending = append(pl.pending, f.Bytes()...)
	pl.frames++
	if pl.frames == maxFrames {
		return pl.flush()
	}
	return nil
}

// flush transmits the buffered window back-to-back, then drains one
// acknowledgement per frame. If any acknowledgement fails, the state of
// the remaining acknowledgements is undefined and the caller must treat
// the whole page operation as failed.
func (pl *pipeline) flush() error {
	if pl.frames == 0 {
		return nil
	}
	count := pl.frames
	n, err := pl.port.Write(pl.pending)
	if err != nil {
		return err
	}
	if n != len(pl.pending) {
		return ErrSerial
	}
	pl.pending = pl.pending[:0]
	pl.frames = 0
	pl.log.Trace().Int("frames", count).Msg("flushed frame window")

	for ; count > 0; count-- {
		if err := pl.waitAck(); err != nil {
			return err
		}
	}
	return nil
}

// sendWait transmits f on its own and waits for its acknowledgement.
// Any buffered window is flushed first: commands with device-side side
// effects are never pipelined, because their completion is a
// precondition for the next step.
func (pl *pipeline) sendWait(f Frame) error {
	if err := pl.flush(); err != nil {
		return err
	}
	buf := f.Bytes()
	n, err := pl.port.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrSerial
	}
	return pl.waitAck()
}

// waitAck reads a single acknowledgement byte. A timeout is a
// recoverable transport failure; any byte other than 0x00 means host
// and device no longer agree on the frame stream, and the session must
// not continue.
func (pl *pipeline) waitAck() error {
	buf := make([]byte, 1)
	attempts := 0
	for {
		if attempts >= numAttempts {
			return avrboot.ErrTimeout
		}

		n, err := pl.port.Read(buf)
		if err != nil {
			return err
		}

		if n == 0 {
			// timed out waiting for byte
			attempts++
			continue
		} else if n == 1 {
			if buf[0] != ack {
				pl.log.Error().
					Uint8("resp", buf[0]).
					Msg("protocol error, expected ACK 0x00")
				return ErrSync
			}
			return nil
		} else {
			// not sure what else n could be, must be serial interface
			return ErrSerial
		}
	}
}
