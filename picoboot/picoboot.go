// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

// Package picoboot provides the low level interface to the picoboot
// AVR bootloader. The bootloader speaks a 4-byte frame protocol over a
// serial line and acknowledges every frame with a single zero byte.
//
// Protocol description from the original project:
// http://code.google.com/p/picoboot/
package picoboot

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/openchirp/avrboot"
)

const (
	// DefaultBaud is the serial rate the bootloader runs at.
	DefaultBaud uint = 460800

	// defaultTimeout bounds each acknowledgement read.
	defaultTimeout = 500 * time.Millisecond
)

var ErrSerial = errors.New("Error interacting with reader or writer")

var ErrNotOpen = errors.New("Programmer port is not open")

// Faults the session cannot continue past. Each wraps
// avrboot.ErrUnrecoverable: continuing after one of these risks
// corrupting the target's bootloader.
var (
	ErrSync        = fmt.Errorf("%w: bad acknowledgement, host and device are out of sync", avrboot.ErrUnrecoverable)
	ErrBootRegion  = fmt.Errorf("%w: write would reach into bootloader memory", avrboot.ErrUnrecoverable)
	ErrResetVector = fmt.Errorf("%w: no rjmp at the image reset vector", avrboot.ErrUnrecoverable)
)

// signature is the fixed identity reported for every picoboot target.
// The bootloader has no signature read command, so it is faked.
var signature = [3]byte{0x1e, 0x2a, 0x00}

// Device drives one picoboot target over a serial line. The zero value
// is not usable; construct with New or NewDevice.
type Device struct {
	avrboot.Unsupported

	port    io.ReadWriteCloser
	baud    uint
	timeout time.Duration
	log     zerolog.Logger
}

var _ avrboot.Programmer = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithLogger routes the device's diagnostics to l.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// WithBaud overrides the serial rate used by Open.
func WithBaud(baud uint) Option {
	return func(d *Device) { d.baud = baud }
}

// WithTimeout overrides the per-read acknowledgement timeout used by
// Open.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) { d.timeout = timeout }
}

// New returns a Device that acquires its serial port on Open.
func New(opts ...Option) *Device {
	d := &Device{
		baud:    DefaultBaud,
		timeout: defaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDevice sets up a picoboot device over an already open port.
//
// We assume that port.Read has some timeout set.
func NewDevice(port io.ReadWriteCloser, opts ...Option) *Device {
	d := New(opts...)
	d.port = port
	return d
}

func init() {
	avrboot.Register("picoboot", func() avrboot.Programmer { return New() })
}

// openSerial is a hook for tests.
var openSerial = avrboot.OpenSerial

// Open acquires the serial port named by port at the configured baud
// rate and discards any stale input. A failed Open leaves no port held.
func (d *Device) Open(port string) error {
	p, err := openSerial(port, d.baud, d.timeout)
	if err != nil {
		return err
	}
	d.port = p
	d.log.Debug().Str("port", port).Uint("baud", d.baud).Msg("opened serial port")
	if err := d.drain(); err != nil {
		d.Close()
		return err
	}
	return nil
}

// Close releases the serial port. Close on an unopened device is a
// no-op.
func (d *Device) Close() error {
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// drain discards buffered input until a read turns up empty.
func (d *Device) drain() error {
	buf := make([]byte, 64)
	for {
		n, err := d.port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Initialize performs the sync handshake: a frame of zeros that the
// bootloader must acknowledge before programming starts.
func (d *Device) Initialize(p *avrboot.Part) error {
	if d.port == nil {
		return ErrNotOpen
	}
	d.log.Debug().Msg("syncing with bootloader")
	return newPipeline(d.port, d.log).sendWait(MakeFrame(0, 0, CmdData))
}

// ReadSignature fills in the device signature. The protocol has no
// identify command, so a fixed signature is reported; this is a
// backend-specific stand-in, not a generic default.
func (d *Device) ReadSignature(m *avrboot.Memory) error {
	if len(m.Buf) < len(signature) {
		return avrboot.ErrBadArguments
	}
	copy(m.Buf, signature[:])
	return nil
}
