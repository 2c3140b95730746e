// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package avrboot

import (
	"testing"
)

type nopProg struct {
	Unsupported
}

func TestRegistry(t *testing.T) {
	Register("nop", func() Programmer { return &nopProg{} })

	prog, err := New("nop")
	if err != nil {
		t.Fatalf("New returned %v", err)
	}
	if _, ok := prog.(*nopProg); !ok {
		t.Fatalf("New returned %T, expected *nopProg", prog)
	}

	if _, err := New("bogus"); err != ErrUnknownProgrammer {
		t.Fatalf("expected ErrUnknownProgrammer, got %v", err)
	}

	found := false
	for _, name := range Programmers() {
		if name == "nop" {
			found = true
		}
	}
	if !found {
		t.Error("Programmers() does not list the registered backend")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	Register("dup", func() Programmer { return &nopProg{} })
	Register("dup", func() Programmer { return &nopProg{} })
}

func TestUnsupported(t *testing.T) {
	var u Unsupported
	if err := u.Open("port"); err != nil {
		t.Errorf("Open returned %v", err)
	}
	if err := u.Initialize(nil); err != nil {
		t.Errorf("Initialize returned %v", err)
	}
	if err := u.Enable(); err != nil {
		t.Errorf("Enable returned %v", err)
	}
	if err := u.ProgramEnable(nil); err != nil {
		t.Errorf("ProgramEnable returned %v", err)
	}
	if err := u.ChipErase(nil); err != nil {
		t.Errorf("ChipErase returned %v", err)
	}
	if err := u.ReadSignature(nil); err != nil {
		t.Errorf("ReadSignature returned %v", err)
	}
	n, err := u.PagedWrite(nil, 64, 0, 64)
	if n != 0 || err != nil {
		t.Errorf("PagedWrite = %d, %v, expected 0, nil", n, err)
	}
	res, err := u.Cmd([4]byte{1, 2, 3, 4})
	if res != [4]byte{} || err != nil {
		t.Errorf("Cmd = %v, %v, expected a zero response", res, err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}
