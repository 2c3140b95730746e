// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package usbspi

import (
	"bytes"
	"errors"
	"testing"

	"github.com/openchirp/avrboot"
)

// xfer is one recorded vendor transfer.
type xfer struct {
	receive  bool
	function byte
	arg      [4]byte
}

// fakeXfer scripts the firmware side of the control pipe. Scripted
// errors and responses are consumed in order; once a queue runs out,
// transfers succeed with an all-zero response.
type fakeXfer struct {
	calls []xfer
	resps [][]byte
	errs  []error
}

func (f *fakeXfer) ctl(receive bool, function byte, arg [4]byte, buf []byte) (int, error) {
	f.calls = append(f.calls, xfer{receive, function, arg})

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(f.resps) > 0 {
		resp := f.resps[0]
		f.resps = f.resps[1:]
		return copy(buf, resp), nil
	}
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

func testDevice(fx *fakeXfer) *Device {
	d := New()
	d.ctl = fx.ctl
	return d
}

func TestControlWords(t *testing.T) {
	val, idx := controlWords([4]byte{0x30, 0x00, 0x02, 0x00})
	if val != 0x0030 || idx != 0x0002 {
		t.Fatalf("controlWords = %#04x, %#04x, expected 0x0030, 0x0002", val, idx)
	}
	val, idx = controlWords([4]byte{0xAC, 0x80, 0x12, 0x34})
	if val != 0x80AC || idx != 0x3412 {
		t.Fatalf("controlWords = %#04x, %#04x, expected 0x80ac, 0x3412", val, idx)
	}
}

func TestCmd(t *testing.T) {
	fx := &fakeXfer{resps: [][]byte{{0x01, 0x02, 0x03, 0x04}}}
	d := testDevice(fx)

	res, err := d.Cmd([4]byte{0x30, 0x00, 0x01, 0x00})
	if err != nil {
		t.Fatalf("Cmd returned %v", err)
	}
	if res != [4]byte{0x01, 0x02, 0x03, 0x04} {
		t.Fatalf("Cmd response = %#v", res)
	}
	if len(fx.calls) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(fx.calls))
	}
	call := fx.calls[0]
	if !call.receive || call.function != funcTransmit {
		t.Fatalf("unexpected transfer %+v", call)
	}
	if call.arg != [4]byte{0x30, 0x00, 0x01, 0x00} {
		t.Fatalf("transfer arg = %#v", call.arg)
	}
}

func TestCmdShortResponse(t *testing.T) {
	fx := &fakeXfer{resps: [][]byte{{0x01}}}
	if _, err := testDevice(fx).Cmd([4]byte{}); err != ErrResponse {
		t.Fatalf("expected ErrResponse, got %v", err)
	}
}

func TestCmdNotOpen(t *testing.T) {
	if _, err := New().Cmd([4]byte{}); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestProgramEnable(t *testing.T) {
	fx := &fakeXfer{}
	if err := testDevice(fx).ProgramEnable(nil); err != nil {
		t.Fatalf("ProgramEnable returned %v", err)
	}
	if fx.calls[0].function != funcEnableProg {
		t.Errorf("function = %d, expected %d", fx.calls[0].function, funcEnableProg)
	}

	fx = &fakeXfer{resps: [][]byte{{0xFF, 0x00, 0x00, 0x00}}}
	if err := testDevice(fx).ProgramEnable(nil); err != ErrTarget {
		t.Fatalf("expected ErrTarget, got %v", err)
	}
}

func TestReadSignature(t *testing.T) {
	fx := &fakeXfer{resps: [][]byte{
		{0x00, 0x00, 0x00, 0x1e},
		{0x00, 0x00, 0x00, 0x93},
		{0x00, 0x00, 0x00, 0x0b},
	}}
	d := testDevice(fx)

	m := &avrboot.Memory{Type: "signature", Size: 3, Buf: make([]byte, 3)}
	if err := d.ReadSignature(m); err != nil {
		t.Fatalf("ReadSignature returned %v", err)
	}
	if !bytes.Equal(m.Buf, []byte{0x1e, 0x93, 0x0b}) {
		t.Fatalf("signature = %#v", m.Buf)
	}
	for i, call := range fx.calls {
		want := [4]byte{ispReadSignature, 0, byte(i), 0}
		if call.arg != want {
			t.Errorf("transfer %d arg = %#v, expected %#v", i, call.arg, want)
		}
	}
}

func TestChipErase(t *testing.T) {
	fx := &fakeXfer{}
	if err := testDevice(fx).ChipErase(nil); err != nil {
		t.Fatalf("ChipErase returned %v", err)
	}
	want := [4]byte{ispChipErase1, ispChipErase2, 0, 0}
	if fx.calls[0].arg != want {
		t.Errorf("erase command = %#v, expected %#v", fx.calls[0].arg, want)
	}
}

func TestPagedWrite(t *testing.T) {
	fx := &fakeXfer{}
	d := testDevice(fx)

	mem := &avrboot.Memory{Type: "flash", Size: 8192, PageSize: 4, Buf: make([]byte, 8192)}
	copy(mem.Buf[8:], []byte{0x10, 0x11, 0x12, 0x13})

	n, err := d.PagedWrite(mem, 4, 8, 4)
	if err != nil {
		t.Fatalf("PagedWrite returned %v", err)
	}
	if n != 4 {
		t.Fatalf("PagedWrite wrote %d bytes, expected 4", n)
	}

	// Word loads at word addresses 4 and 5, commit at the page's word
	// address, then the RDY/BSY poll.
	want := [][4]byte{
		{ispLoadPageLo, 0x00, 0x04, 0x10},
		{ispLoadPageHi, 0x00, 0x04, 0x11},
		{ispLoadPageLo, 0x00, 0x05, 0x12},
		{ispLoadPageHi, 0x00, 0x05, 0x13},
		{ispWritePage, 0x00, 0x04, 0x00},
		{ispPollBusy, 0x00, 0x00, 0x00},
	}
	if len(fx.calls) != len(want) {
		t.Fatalf("expected %d transfers, got %d", len(want), len(fx.calls))
	}
	for i, w := range want {
		if fx.calls[i].arg != w {
			t.Errorf("transfer %d = %#v, expected %#v", i, fx.calls[i].arg, w)
		}
	}
}

func TestPagedWriteNonFlash(t *testing.T) {
	d := testDevice(&fakeXfer{})
	mem := &avrboot.Memory{Type: "eeprom", Size: 512, Buf: make([]byte, 512)}
	if _, err := d.PagedWrite(mem, 4, 0, 4); err != avrboot.ErrUnsupportedMemory {
		t.Fatalf("expected ErrUnsupportedMemory, got %v", err)
	}
}

func TestPagedWriteOddAddress(t *testing.T) {
	d := testDevice(&fakeXfer{})
	mem := &avrboot.Memory{Type: "flash", Size: 512, Buf: make([]byte, 512)}
	if _, err := d.PagedWrite(mem, 4, 3, 4); err != avrboot.ErrBadArguments {
		t.Fatalf("expected ErrBadArguments, got %v", err)
	}
}

func TestInitialize(t *testing.T) {
	fx := &fakeXfer{resps: [][]byte{{0x01, 0x00, 0x00, 0x00}}}
	d := testDevice(fx)

	if err := d.Initialize(nil); err != nil {
		t.Fatalf("Initialize returned %v", err)
	}
	if d.caps != 1 {
		t.Errorf("caps = %d, expected 1", d.caps)
	}
	funcs := []byte{funcGetCapabilities, funcSetISPSCK, funcConnect}
	if len(fx.calls) != len(funcs) {
		t.Fatalf("expected %d transfers, got %d", len(funcs), len(fx.calls))
	}
	for i, fn := range funcs {
		if fx.calls[i].function != fn {
			t.Errorf("transfer %d function = %d, expected %d", i, fx.calls[i].function, fn)
		}
	}
}

func TestInitializeOldFirmware(t *testing.T) {
	// Old firmware stalls the capability request; Initialize carries on
	// with no capabilities.
	fx := &fakeXfer{errs: []error{errors.New("stall")}}
	d := testDevice(fx)

	if err := d.Initialize(nil); err != nil {
		t.Fatalf("Initialize returned %v", err)
	}
	if d.caps != 0 {
		t.Errorf("caps = %d, expected 0", d.caps)
	}
}

func TestRegistered(t *testing.T) {
	prog, err := avrboot.New("usbspi")
	if err != nil {
		t.Fatalf("New returned %v", err)
	}
	if _, ok := prog.(*Device); !ok {
		t.Fatalf("New returned %T, expected *Device", prog)
	}
}
