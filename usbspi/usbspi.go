// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

// Package usbspi drives USBasp compatible SPI programmers over USB
// vendor control transfers. Every exchange forwards a 4-byte command
// and returns a 4-byte response; the higher level ISP operations are
// all built from that single primitive.
package usbspi

import (
	"errors"
	"time"

	"github.com/google/gousb"
	"github.com/rs/zerolog"

	"github.com/openchirp/avrboot"
)

// USBasp shared vendor and product IDs.
const (
	usbVendorID  = 0x16c0
	usbProductID = 0x05dc
)

// Vendor request function codes understood by the programmer firmware.
const (
	funcConnect         = 1
	funcDisconnect      = 2
	funcTransmit        = 3
	funcEnableProg      = 5
	funcSetISPSCK       = 10
	funcGetCapabilities = 127
)

// sckAuto lets the firmware pick the ISP clock rate.
const sckAuto byte = 0

// controlTimeout bounds every vendor control transfer.
const controlTimeout = 5 * time.Second

var ErrNoDevice = errors.New("No USBasp compatible programmer found")

var ErrNotOpen = errors.New("Programmer is not open")

var ErrResponse = errors.New("Wrong response size from programmer")

var ErrTarget = errors.New("Target did not enter programming mode")

// controlFunc is the transfer primitive, split out so the command
// plumbing can be exercised without hardware.
type controlFunc func(receive bool, function byte, arg [4]byte, buf []byte) (int, error)

// Device drives one USBasp compatible programmer.
type Device struct {
	avrboot.Unsupported

	ctx  *gousb.Context
	dev  *gousb.Device
	ctl  controlFunc
	caps uint32
	log  zerolog.Logger
}

var _ avrboot.Programmer = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithLogger routes the device's diagnostics to l.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// New returns a Device that locates its programmer on Open.
func New(opts ...Option) *Device {
	d := &Device{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func init() {
	avrboot.Register("usbspi", func() avrboot.Programmer { return New() })
}

// Open claims the first USBasp compatible device on the bus. The port
// argument is accepted for interface symmetry and ignored: USB devices
// are located by their vendor and product IDs.
func (d *Device) Open(port string) error {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == usbVendorID && desc.Product == usbProductID
	})
	// Extra matches are not ours to hold.
	for i := 1; i < len(devs); i++ {
		devs[i].Close()
	}
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return err
		}
		return ErrNoDevice
	}

	dev := devs[0]
	dev.ControlTimeout = controlTimeout
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return err
	}

	d.ctx = ctx
	d.dev = dev
	d.ctl = d.usbControl
	d.log.Debug().Str("product", dev.String()).Msg("opened programmer")
	return nil
}

// Close disconnects from the target and releases the USB handles.
// Close on an unopened device is a no-op.
func (d *Device) Close() error {
	if d.ctl != nil {
		// Best effort: de-assert reset so the target restarts.
		var none [4]byte
		buf := make([]byte, 4)
		d.transmit(true, funcDisconnect, none, buf)
		d.ctl = nil
	}
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	if d.ctx != nil {
		err := d.ctx.Close()
		d.ctx = nil
		return err
	}
	return nil
}

// controlWords converts a 4-byte command into the wValue/wIndex pair
// the firmware expects.
func controlWords(arg [4]byte) (val, idx uint16) {
	val = uint16(arg[1])<<8 | uint16(arg[0])
	idx = uint16(arg[3])<<8 | uint16(arg[2])
	return val, idx
}

func (d *Device) usbControl(receive bool, function byte, arg [4]byte, buf []byte) (int, error) {
	rtype := uint8(gousb.ControlVendor | gousb.ControlDevice | gousb.ControlOut)
	if receive {
		rtype = uint8(gousb.ControlVendor | gousb.ControlDevice | gousb.ControlIn)
	}
	val, idx := controlWords(arg)
	return d.dev.Control(rtype, function, val, idx, buf)
}

// transmit performs one vendor exchange using the firmware's calling
// convention.
func (d *Device) transmit(receive bool, function byte, arg [4]byte, buf []byte) (int, error) {
	if d.ctl == nil {
		return 0, ErrNotOpen
	}
	n, err := d.ctl(receive, function, arg, buf)
	if err != nil {
		return n, err
	}
	d.log.Trace().
		Uint8("func", function).
		Hex("arg", arg[:]).
		Hex("resp", buf[:n]).
		Msg("vendor transfer")
	return n, nil
}

// Initialize reads the programmer's capability word, programs the ISP
// clock and connects to the target.
func (d *Device) Initialize(p *avrboot.Part) error {
	var none [4]byte
	res := make([]byte, 4)

	// Old firmware stalls the capability request; treat that as no
	// capabilities rather than a failure.
	if n, err := d.transmit(true, funcGetCapabilities, none, res); err == nil && n == 4 {
		d.caps = uint32(res[0]) | uint32(res[1])<<8 | uint32(res[2])<<16 | uint32(res[3])<<24
	} else {
		d.caps = 0
	}
	d.log.Debug().Uint32("caps", d.caps).Msg("programmer capabilities")

	if _, err := d.transmit(true, funcSetISPSCK, [4]byte{sckAuto}, res); err != nil {
		return err
	}
	if _, err := d.transmit(true, funcConnect, none, res); err != nil {
		return err
	}

	// Let the firmware settle before the first command.
	time.Sleep(10 * time.Millisecond)
	return nil
}

// ProgramEnable asks the firmware to put the target into serial
// programming mode.
func (d *Device) ProgramEnable(p *avrboot.Part) error {
	var none [4]byte
	res := make([]byte, 4)
	n, err := d.transmit(true, funcEnableProg, none, res)
	if err != nil {
		return err
	}
	if n < 1 || res[0] != 0 {
		return ErrTarget
	}
	return nil
}

// Cmd forwards a raw 4-byte ISP command to the target and returns its
// 4-byte response.
func (d *Device) Cmd(cmd [4]byte) ([4]byte, error) {
	var res [4]byte
	n, err := d.transmit(true, funcTransmit, cmd, res[:])
	if err != nil {
		return res, err
	}
	if n != 4 {
		return res, ErrResponse
	}
	return res, nil
}
