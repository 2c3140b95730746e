// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package picoboot

import "github.com/openchirp/avrboot"

// BootloaderSize is the reserved tail of flash: a 2-byte virtual reset
// vector slot followed by 64 bytes of bootloader code. The device has
// no write protection of its own; the checks in PagedWrite are the only
// thing keeping application data out of this region.
const BootloaderSize = 66

// The rjmp to the bootloader entry that replaces the application's
// reset vector, low byte first.
const (
	resetVecLo byte = 0xdf
	resetVecHi byte = 0xcf
)

// pageWriter carries the state shared by the fill, erase and commit
// steps of one page operation.
type pageWriter struct {
	pl       *pipeline
	buf      []byte // the whole flash image
	pageSize int
}

// fill stages one page of image bytes into the device's temporary page
// buffer. For every 16-bit word it pipelines a data-stage frame
// followed by a fill-buffer frame carrying the word's absolute flash
// address.
func (w *pageWriter) fill(pageAddr int) error {
	w.pl.log.Debug().Int("addr", pageAddr).Msg("filling page buffer")
	for a := pageAddr; a < pageAddr+w.pageSize; a += 2 {
		if err := w.pl.send(MakeFrame(w.buf[a], w.buf[a+1], CmdData)); err != nil {
			return err
		}
		if err := w.pl.send(MakeFrame(byte(a), byte(a>>8), CmdFillBuffer)); err != nil {
			return err
		}
	}
	return nil
}

// erase erases the flash page at pageAddr. Synchronous: the erase must
// complete before the page buffer can be committed.
func (w *pageWriter) erase(pageAddr int) error {
	return w.pl.sendWait(MakeFrame(byte(pageAddr), byte(pageAddr>>8), CmdErasePage))
}

// commit writes the filled page buffer to the flash page at pageAddr.
func (w *pageWriter) commit(pageAddr int) error {
	return w.pl.sendWait(MakeFrame(byte(pageAddr), byte(pageAddr>>8), CmdWritePage))
}

// writePage runs the fill, erase, commit sequence for one page.
func (w *pageWriter) writePage(pageAddr int) error {
	if err := w.fill(pageAddr); err != nil {
		return err
	}
	if err := w.erase(pageAddr); err != nil {
		return err
	}
	return w.commit(pageAddr)
}

// PagedWrite writes one full page of a flash image starting at addr and
// returns the number of bytes written. numBytes always equals pageSize.
//
// The final BootloaderSize bytes of flash are out of bounds: a write
// at or past that boundary fails with ErrBootRegion and the session
// must end. The page just below the boundary is not written by its own
// call; its bytes go out during the addr 0 call, which also relocates
// the application's reset vector into the reserved 2-byte slot so the
// bootloader can hand off control. Callers must therefore flash whole
// images in ascending page order starting at page 0, with mem.Buf
// fully populated first.
func (d *Device) PagedWrite(mem *avrboot.Memory, pageSize, addr, numBytes int) (int, error) {
	if mem.Type != "flash" {
		d.log.Debug().Str("memtype", mem.Type).Msg("only flash writes are supported")
		return 0, avrboot.ErrUnsupportedMemory
	}
	if d.port == nil {
		return 0, ErrNotOpen
	}

	vrstVecAddr := mem.Size - BootloaderSize
	if addr >= vrstVecAddr {
		return 0, ErrBootRegion
	}
	if addr > vrstVecAddr-pageSize {
		// Written along with page 0; see above.
		return numBytes, nil
	}

	w := &pageWriter{
		pl:       newPipeline(d.port, d.log),
		buf:      mem.Buf,
		pageSize: pageSize,
	}

	if addr == 0 {
		vrstVecPage := vrstVecAddr - pageSize + 2

		// Save and redirect the reset vector.
		appStart := uint16(mem.Buf[0]) | uint16(mem.Buf[1])<<8
		if appStart&0xF000 != 0xC000 {
			return 0, ErrResetVector
		}
		mem.Buf[0] = resetVecLo
		mem.Buf[1] = resetVecHi

		// New rjmp for the application start, offset by the
		// bootloader size in words.
		appStart = 0xC000 | (((appStart & 0x0FFF) + BootloaderSize/2) & 0x0FFF)
		mem.Buf[vrstVecAddr] = byte(appStart)
		mem.Buf[vrstVecAddr+1] = byte(appStart >> 8)
		d.log.Debug().
			Uint16("vector", appStart).
			Int("addr", vrstVecAddr).
			Msg("relocated reset vector")

		// The bootloader needs the virtual vector in place to
		// dispatch once flashing completes, so its page goes out
		// before page zero.
		if err := w.writePage(vrstVecPage); err != nil {
			return 0, err
		}
	}

	if err := w.writePage(addr); err != nil {
		return 0, err
	}
	return numBytes, nil
}
