// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package avrboot

import (
	"sort"
	"strings"
)

// Part describes one AVR device: its identity and the flash geometry
// the paged write operations need.
type Part struct {
	Name      string
	ID        string // short id, e.g. "t85"
	Signature [3]byte
	FlashSize int
	PageSize  int
}

// Memory is the in-memory image of one target memory. The write
// algorithm references Buf, it never copies it; the caller owns the
// buffer. For flash images the final 66 bytes are reserved for the
// bootloader and its virtual reset vector (see package picoboot).
type Memory struct {
	Type     string // "flash", "signature", ...
	Size     int
	PageSize int
	Buf      []byte
}

// NewFlashImage returns an erased flash image for p: every byte 0xFF,
// sized and paged per the part.
func NewFlashImage(p *Part) *Memory {
	buf := make([]byte, p.FlashSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &Memory{
		Type:     "flash",
		Size:     p.FlashSize,
		PageSize: p.PageSize,
		Buf:      buf,
	}
}

var parts = make(map[string]*Part)

// RegisterPart adds a part to the registry, indexed by lowercased name
// and short id. It panics on duplicates; use LoadPartFile for
// definitions supplied at run time.
func RegisterPart(p *Part) {
	for _, key := range []string{p.Name, p.ID} {
		if key == "" {
			continue
		}
		key = strings.ToLower(key)
		if _, dup := parts[key]; dup {
			panic("avrboot: duplicate part " + key)
		}
		parts[key] = p
	}
}

// PartByName looks up a part by full name or short id,
// case-insensitively.
func PartByName(name string) (*Part, error) {
	p, ok := parts[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnknownPart
	}
	return p, nil
}

// Parts returns the registered parts sorted by name.
func Parts() []*Part {
	seen := make(map[*Part]bool)
	list := make([]*Part, 0, len(parts))
	for _, p := range parts {
		if !seen[p] {
			seen[p] = true
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Builtin parts. Signatures and geometry follow the datasheets.
func init() {
	for _, p := range []*Part{
		{Name: "attiny13a", ID: "t13", Signature: [3]byte{0x1e, 0x90, 0x07}, FlashSize: 1024, PageSize: 32},
		{Name: "attiny25", ID: "t25", Signature: [3]byte{0x1e, 0x91, 0x08}, FlashSize: 2048, PageSize: 32},
		{Name: "attiny45", ID: "t45", Signature: [3]byte{0x1e, 0x92, 0x06}, FlashSize: 4096, PageSize: 64},
		{Name: "attiny84", ID: "t84", Signature: [3]byte{0x1e, 0x93, 0x0c}, FlashSize: 8192, PageSize: 64},
		{Name: "attiny85", ID: "t85", Signature: [3]byte{0x1e, 0x93, 0x0b}, FlashSize: 8192, PageSize: 64},
		{Name: "atmega88", ID: "m88", Signature: [3]byte{0x1e, 0x93, 0x0a}, FlashSize: 8192, PageSize: 64},
		{Name: "atmega168", ID: "m168", Signature: [3]byte{0x1e, 0x94, 0x06}, FlashSize: 16384, PageSize: 128},
		{Name: "atmega328p", ID: "m328p", Signature: [3]byte{0x1e, 0x95, 0x0f}, FlashSize: 32768, PageSize: 128},
	} {
		RegisterPart(p)
	}
}
