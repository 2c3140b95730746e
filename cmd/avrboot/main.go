// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

// Command avrboot flashes AVR microcontrollers through the picoboot
// serial bootloader or a USBasp compatible ISP programmer.
//
//	avrboot flash -p t85 -P /dev/ttyUSB0 firmware.hex
//	avrboot id -c usbspi -p t85
//	avrboot erase -c usbspi -p t85
//	avrboot parts
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openchirp/avrboot"
	"github.com/openchirp/avrboot/picoboot"
	"github.com/openchirp/avrboot/usbspi"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
}

var commands = map[string]func(args []string) error{
	"flash": cmdFlash,
	"erase": cmdErase,
	"id":    cmdID,
	"parts": cmdParts,
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: avrboot <command> [flags]

Commands:
  flash <file.hex>  write an Intel HEX image to flash
  erase             erase the target part
  id                read and check the device signature
  parts             list known parts

Programmers: %s

Run 'avrboot <command> -h' for the command's flags.
`, strings.Join(avrboot.Programmers(), ", "))
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
	}
	if err := cmd(os.Args[2:]); err != nil {
		if errors.Is(err, avrboot.ErrUnrecoverable) {
			log.Fatal().Err(err).Msg("programming aborted")
		}
		log.Error().Err(err).Msg(os.Args[1] + " failed")
		os.Exit(1)
	}
}

// common holds the flags every hardware command shares.
type common struct {
	programmer string
	part       string
	port       string
	baud       uint
	verbose    int
	partsFile  string
}

func addCommon(fs *flag.FlagSet) *common {
	c := &common{}
	fs.StringVar(&c.programmer, "c", "picoboot", "programmer backend")
	fs.StringVar(&c.part, "p", "", "target part name or id (e.g. t85)")
	fs.StringVar(&c.port, "P", "/dev/ttyUSB0", "serial port")
	fs.UintVar(&c.baud, "b", 0, "serial baud rate (0 = backend default)")
	fs.IntVar(&c.verbose, "v", 0, "verbosity: 1 debug, 2 trace")
	fs.StringVar(&c.partsFile, "parts", "", "extra part definitions (YAML)")
	return c
}

// setup applies the common flags once parsing is done.
func (c *common) setup() error {
	switch {
	case c.verbose >= 2:
		log.Logger = log.Logger.Level(zerolog.TraceLevel)
	case c.verbose == 1:
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}
	if c.partsFile != "" {
		loaded, err := avrboot.LoadPartFile(c.partsFile)
		if err != nil {
			return err
		}
		log.Debug().
			Int("parts", len(loaded)).
			Str("file", c.partsFile).
			Msg("loaded extra part definitions")
	}
	return nil
}

func (c *common) lookupPart() (*avrboot.Part, error) {
	if c.part == "" {
		return nil, errors.New("no part given, use -p (see 'avrboot parts')")
	}
	p, err := avrboot.PartByName(c.part)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, c.part)
	}
	return p, nil
}

// openProgrammer constructs the selected backend, wires its logging and
// backend-specific knobs, and opens the transport.
func (c *common) openProgrammer() (avrboot.Programmer, error) {
	prog, err := avrboot.New(c.programmer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (have %s)",
			err, c.programmer, strings.Join(avrboot.Programmers(), ", "))
	}
	switch p := prog.(type) {
	case *picoboot.Device:
		picoboot.WithLogger(log.Logger)(p)
		if c.baud != 0 {
			picoboot.WithBaud(c.baud)(p)
		}
	case *usbspi.Device:
		usbspi.WithLogger(log.Logger)(p)
	}
	if err := prog.Open(c.port); err != nil {
		return nil, fmt.Errorf("open %s: %w", c.port, err)
	}
	return prog, nil
}

// progress draws a coarse percentage meter on stderr.
func progress(done, total int) {
	if total == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\rwriting: %3d%% (%d/%d pages)", done*100/total, done, total)
	if done == total {
		fmt.Fprintln(os.Stderr)
	}
}

// loadHex parses an Intel HEX file into mem and returns its data
// segments.
func loadHex(path string, mem *avrboot.Memory) ([]gohex.DataSegment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hexmem := gohex.NewMemory()
	if err := hexmem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	segments := hexmem.GetDataSegments()
	for _, seg := range segments {
		end := int(seg.Address) + len(seg.Data)
		if end > mem.Size {
			return nil, fmt.Errorf("%s: segment 0x%04x-0x%04x does not fit %d byte flash",
				path, seg.Address, end, mem.Size)
		}
		copy(mem.Buf[seg.Address:], seg.Data)
	}
	return segments, nil
}

// coveredPages returns the sorted page base addresses touched by the
// image's data segments.
func coveredPages(segments []gohex.DataSegment, pageSize int) []int {
	seen := make(map[int]bool)
	for _, seg := range segments {
		if len(seg.Data) == 0 {
			continue
		}
		first := int(seg.Address) / pageSize * pageSize
		last := (int(seg.Address) + len(seg.Data) - 1) / pageSize * pageSize
		for addr := first; addr <= last; addr += pageSize {
			seen[addr] = true
		}
	}
	pages := make([]int, 0, len(seen))
	for addr := range seen {
		pages = append(pages, addr)
	}
	sort.Ints(pages)
	return pages
}

// ensureResetPage prepends page 0 when the image touches the page the
// bootloader folds into the page 0 call. That page's bytes only reach
// the wire during the page 0 relocation, so page 0 must be in the
// write set even when the hex carries no data there.
func ensureResetPage(pages []int, part *avrboot.Part) []int {
	if len(pages) == 0 || pages[0] == 0 {
		return pages
	}
	fold := part.FlashSize - picoboot.BootloaderSize - part.PageSize
	if pages[len(pages)-1] <= fold {
		return pages
	}
	return append([]int{0}, pages...)
}

func cmdFlash(args []string) error {
	fs := flag.NewFlagSet("flash", flag.ExitOnError)
	c := addCommon(fs)
	fs.Parse(args)
	if err := c.setup(); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("flash needs exactly one .hex file argument")
	}

	part, err := c.lookupPart()
	if err != nil {
		return err
	}
	mem := avrboot.NewFlashImage(part)
	segments, err := loadHex(fs.Arg(0), mem)
	if err != nil {
		return err
	}
	pages := coveredPages(segments, part.PageSize)
	if len(pages) == 0 {
		return errors.New("image contains no data")
	}

	prog, err := c.openProgrammer()
	if err != nil {
		return err
	}
	defer prog.Close()

	if _, ok := prog.(*picoboot.Device); ok {
		pages = ensureResetPage(pages, part)
	}
	log.Info().
		Str("part", part.Name).
		Int("pages", len(pages)).
		Str("file", fs.Arg(0)).
		Msg("writing flash")

	if err := prog.Initialize(part); err != nil {
		return err
	}
	if err := prog.ProgramEnable(part); err != nil {
		return err
	}

	// Ascending order matters: the page 0 call relocates the reset
	// vector and emits the virtual-vector page before any page
	// overlapping the reserved region is reached.
	written := 0
	for i, addr := range pages {
		n, err := prog.PagedWrite(mem, part.PageSize, addr, part.PageSize)
		if err != nil {
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("page 0x%04x: %w", addr, err)
		}
		written += n
		progress(i+1, len(pages))
	}
	log.Info().Int("bytes", written).Msg("flash complete")
	return nil
}

func cmdErase(args []string) error {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	c := addCommon(fs)
	fs.Parse(args)
	if err := c.setup(); err != nil {
		return err
	}
	part, err := c.lookupPart()
	if err != nil {
		return err
	}

	prog, err := c.openProgrammer()
	if err != nil {
		return err
	}
	defer prog.Close()

	if err := prog.Initialize(part); err != nil {
		return err
	}
	if err := prog.ProgramEnable(part); err != nil {
		return err
	}
	if err := prog.ChipErase(part); err != nil {
		return err
	}
	log.Info().Str("part", part.Name).Msg("chip erased")
	return nil
}

func cmdID(args []string) error {
	fs := flag.NewFlagSet("id", flag.ExitOnError)
	c := addCommon(fs)
	fs.Parse(args)
	if err := c.setup(); err != nil {
		return err
	}

	var part *avrboot.Part
	if c.part != "" {
		var err error
		if part, err = c.lookupPart(); err != nil {
			return err
		}
	}

	prog, err := c.openProgrammer()
	if err != nil {
		return err
	}
	defer prog.Close()

	if err := prog.Initialize(part); err != nil {
		return err
	}
	if err := prog.ProgramEnable(part); err != nil {
		return err
	}

	sig := &avrboot.Memory{Type: "signature", Size: 3, Buf: make([]byte, 3)}
	if err := prog.ReadSignature(sig); err != nil {
		return err
	}
	fmt.Printf("Device signature: 0x%02x%02x%02x\n", sig.Buf[0], sig.Buf[1], sig.Buf[2])

	if part != nil && part.Signature != [3]byte{sig.Buf[0], sig.Buf[1], sig.Buf[2]} {
		return fmt.Errorf("signature mismatch: expected 0x%02x%02x%02x for %s",
			part.Signature[0], part.Signature[1], part.Signature[2], part.Name)
	}
	return nil
}

func cmdParts(args []string) error {
	fs := flag.NewFlagSet("parts", flag.ExitOnError)
	c := addCommon(fs)
	fs.Parse(args)
	if err := c.setup(); err != nil {
		return err
	}
	for _, p := range avrboot.Parts() {
		fmt.Printf("%-12s %-6s sig 0x%02x%02x%02x  flash %6d  page %3d\n",
			p.Name, p.ID, p.Signature[0], p.Signature[1], p.Signature[2],
			p.FlashSize, p.PageSize)
	}
	return nil
}
