// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package usbspi

import (
	"time"

	"github.com/openchirp/avrboot"
)

// AVR serial programming instruction bytes, forwarded through Cmd.
const (
	ispChipErase1    byte = 0xAC
	ispChipErase2    byte = 0x80
	ispReadSignature byte = 0x30
	ispLoadPageLo    byte = 0x40
	ispLoadPageHi    byte = 0x48
	ispWritePage     byte = 0x4C
	ispPollBusy      byte = 0xF0
)

const (
	// chipEraseDelay covers t(CHIP_ERASE) for the supported parts.
	chipEraseDelay = 10 * time.Millisecond

	// pageWriteTimeout bounds the RDY/BSY poll after a page commit.
	pageWriteTimeout = 100 * time.Millisecond
)

// ChipErase erases the target's flash and EEPROM.
func (d *Device) ChipErase(p *avrboot.Part) error {
	if _, err := d.Cmd([4]byte{ispChipErase1, ispChipErase2, 0, 0}); err != nil {
		return err
	}
	time.Sleep(chipEraseDelay)
	return d.pollReady()
}

// ReadSignature reads the 3-byte device signature, one command per
// byte.
func (d *Device) ReadSignature(m *avrboot.Memory) error {
	if len(m.Buf) < 3 {
		return avrboot.ErrBadArguments
	}
	for i := 0; i < 3; i++ {
		res, err := d.Cmd([4]byte{ispReadSignature, 0, byte(i), 0})
		if err != nil {
			return err
		}
		m.Buf[i] = res[3]
	}
	return nil
}

// PagedWrite programs one full page of flash through the target's page
// buffer: load every 16-bit word, commit the page at its word address,
// then poll RDY/BSY until the write completes. Returns the number of
// bytes written.
func (d *Device) PagedWrite(mem *avrboot.Memory, pageSize, addr, numBytes int) (int, error) {
	if mem.Type != "flash" {
		return 0, avrboot.ErrUnsupportedMemory
	}
	if pageSize <= 0 || pageSize%2 != 0 || addr%2 != 0 {
		return 0, avrboot.ErrBadArguments
	}
	if addr < 0 || addr+pageSize > len(mem.Buf) {
		return 0, avrboot.ErrBadArguments
	}

	for off := 0; off < pageSize; off += 2 {
		w := (addr + off) / 2
		lo := mem.Buf[addr+off]
		hi := mem.Buf[addr+off+1]
		if _, err := d.Cmd([4]byte{ispLoadPageLo, byte(w >> 8), byte(w), lo}); err != nil {
			return 0, err
		}
		if _, err := d.Cmd([4]byte{ispLoadPageHi, byte(w >> 8), byte(w), hi}); err != nil {
			return 0, err
		}
	}

	pw := addr / 2
	if _, err := d.Cmd([4]byte{ispWritePage, byte(pw >> 8), byte(pw), 0}); err != nil {
		return 0, err
	}
	if err := d.pollReady(); err != nil {
		return 0, err
	}
	return numBytes, nil
}

// pollReady issues RDY/BSY until the target reports idle.
func (d *Device) pollReady() error {
	deadline := time.Now().Add(pageWriteTimeout)
	for {
		res, err := d.Cmd([4]byte{ispPollBusy, 0, 0, 0})
		if err != nil {
			return err
		}
		if res[3]&0x01 == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return avrboot.ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}
