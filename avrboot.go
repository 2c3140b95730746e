// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

// Package avrboot presents a uniform programmer interface for flashing
// AVR microcontrollers. Hardware backends live in subpackages: picoboot
// drives the picoboot serial bootloader's frame protocol, usbspi drives
// USBasp compatible ISP programmers over USB.
//
// A backend exposes the full operation set even when its hardware only
// implements part of it. Operations a backend does not support are
// bound to neutral implementations that perform no transport I/O, so
// callers branch on returned values only, never on whether an
// operation exists.
package avrboot

import "sort"

// Programmer is the capability set a hardware backend presents to the
// rest of the toolchain.
type Programmer interface {
	// Open acquires the transport named by port. A failed Open must
	// leave no transport held, so Open either succeeds or the device
	// stays unopened.
	Open(port string) error

	// Close releases the transport. Close is safe on every exit path,
	// including after a failed Open.
	Close() error

	// Initialize establishes the programming session with the target.
	Initialize(p *Part) error

	// Enable prepares the programmer hardware itself.
	Enable() error

	// ProgramEnable puts the target part into programming mode.
	ProgramEnable(p *Part) error

	// ChipErase erases the target part.
	ChipErase(p *Part) error

	// ReadSignature fills the first three bytes of m.Buf with the
	// device signature.
	ReadSignature(m *Memory) error

	// PagedWrite writes one full page of mem starting at addr and
	// returns the number of bytes written. numBytes always equals
	// pageSize.
	PagedWrite(mem *Memory, pageSize, addr, numBytes int) (int, error)

	// Cmd exchanges a raw 4-byte command with the target.
	Cmd(cmd [4]byte) ([4]byte, error)
}

// Unsupported provides neutral implementations of every Programmer
// operation: no transport I/O, nil error, zero results. Backends embed
// it and override the operations their hardware implements.
type Unsupported struct{}

func (Unsupported) Open(port string) error        { return nil }
func (Unsupported) Close() error                  { return nil }
func (Unsupported) Initialize(p *Part) error      { return nil }
func (Unsupported) Enable() error                 { return nil }
func (Unsupported) ProgramEnable(p *Part) error   { return nil }
func (Unsupported) ChipErase(p *Part) error       { return nil }
func (Unsupported) ReadSignature(m *Memory) error { return nil }
func (Unsupported) Cmd(cmd [4]byte) ([4]byte, error) {
	return [4]byte{}, nil
}
func (Unsupported) PagedWrite(mem *Memory, pageSize, addr, numBytes int) (int, error) {
	return 0, nil
}

var programmers = make(map[string]func() Programmer)

// Register makes a programmer backend available under the given name.
// It is meant to be called from a backend package's init function and
// panics on duplicate names.
func Register(name string, newfn func() Programmer) {
	if _, dup := programmers[name]; dup {
		panic("avrboot: duplicate programmer " + name)
	}
	programmers[name] = newfn
}

// New returns a fresh instance of the named programmer backend.
func New(name string) (Programmer, error) {
	newfn, ok := programmers[name]
	if !ok {
		return nil, ErrUnknownProgrammer
	}
	return newfn(), nil
}

// Programmers returns the registered backend names in sorted order.
func Programmers() []string {
	names := make([]string, 0, len(programmers))
	for name := range programmers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
