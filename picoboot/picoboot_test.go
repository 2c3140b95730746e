// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package picoboot

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/openchirp/avrboot"
)

// fakeOpenSerial points the Open path at port instead of real hardware
// for the duration of the test.
func fakeOpenSerial(t *testing.T, port io.ReadWriteCloser) {
	t.Helper()
	restore := openSerial
	openSerial = func(string, uint, time.Duration) (io.ReadWriteCloser, error) {
		return port, nil
	}
	t.Cleanup(func() { openSerial = restore })
}

func TestOpen(t *testing.T) {
	port := &fakePort{reads: []byte{0xAA, 0xBB}}
	fakeOpenSerial(t, port)

	dev := New()
	if err := dev.Open("fake"); err != nil {
		t.Fatalf("Open returned %v", err)
	}
	if dev.port == nil {
		t.Fatal("Open did not keep the port")
	}
	if len(port.reads) != 0 {
		t.Errorf("%d stale bytes left undrained", len(port.reads))
	}
}

func TestOpenClosesPortOnDrainFailure(t *testing.T) {
	port := &fakePort{readErr: errors.New("io fault")}
	fakeOpenSerial(t, port)

	dev := New()
	if err := dev.Open("fake"); err == nil {
		t.Fatal("expected Open to fail")
	}
	if !port.closed {
		t.Error("failed Open left the port open")
	}
	if dev.port != nil {
		t.Error("failed Open left the device holding the port")
	}
}

func TestInitialize(t *testing.T) {
	port := &fakePort{reads: acks(1)}
	dev := NewDevice(port)

	if err := dev.Initialize(nil); err != nil {
		t.Fatalf("Initialize returned %v", err)
	}
	if len(port.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(port.writes))
	}
	checkFrame(t, "sync frame", port.writes[0], MakeFrame(0, 0, CmdData))
}

func TestInitializeBadAck(t *testing.T) {
	port := &fakePort{reads: []byte{0xCC}}
	dev := NewDevice(port)

	if err := dev.Initialize(nil); err != ErrSync {
		t.Fatalf("expected ErrSync, got %v", err)
	}
}

func TestInitializeNotOpen(t *testing.T) {
	if err := New().Initialize(nil); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestReadSignature(t *testing.T) {
	dev := NewDevice(&fakePort{})

	m := &avrboot.Memory{Type: "signature", Size: 3, Buf: make([]byte, 3)}
	if err := dev.ReadSignature(m); err != nil {
		t.Fatalf("ReadSignature returned %v", err)
	}
	if want := []byte{0x1e, 0x2a, 0x00}; !bytes.Equal(m.Buf, want) {
		t.Errorf("signature = %#v, expected %#v", m.Buf, want)
	}

	short := &avrboot.Memory{Type: "signature", Size: 2, Buf: make([]byte, 2)}
	if err := dev.ReadSignature(short); err != avrboot.ErrBadArguments {
		t.Errorf("expected ErrBadArguments for a short buffer, got %v", err)
	}
}

func TestClose(t *testing.T) {
	port := &fakePort{}
	dev := NewDevice(port)

	if err := dev.Close(); err != nil {
		t.Fatalf("Close returned %v", err)
	}
	if !port.closed {
		t.Error("Close did not close the port")
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestOptions(t *testing.T) {
	dev := New(WithBaud(115200), WithTimeout(time.Second))
	if dev.baud != 115200 {
		t.Errorf("baud = %d, expected 115200", dev.baud)
	}
	if dev.timeout != time.Second {
		t.Errorf("timeout = %v, expected %v", dev.timeout, time.Second)
	}
	if def := New(); def.baud != DefaultBaud {
		t.Errorf("default baud = %d, expected %d", def.baud, DefaultBaud)
	}
}

func TestRegistered(t *testing.T) {
	prog, err := avrboot.New("picoboot")
	if err != nil {
		t.Fatalf("New returned %v", err)
	}
	if _, ok := prog.(*Device); !ok {
		t.Fatalf("New returned %T, expected *Device", prog)
	}
}

func TestNeutralOps(t *testing.T) {
	dev := New()
	if err := dev.Enable(); err != nil {
		t.Errorf("Enable returned %v", err)
	}
	if err := dev.ProgramEnable(nil); err != nil {
		t.Errorf("ProgramEnable returned %v", err)
	}
	if err := dev.ChipErase(nil); err != nil {
		t.Errorf("ChipErase returned %v", err)
	}
	res, err := dev.Cmd([4]byte{1, 2, 3, 4})
	if err != nil || res != [4]byte{} {
		t.Errorf("Cmd = %v, %v, expected a zero response", res, err)
	}
}
