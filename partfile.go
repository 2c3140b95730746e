// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package avrboot

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// A part file lists devices not in the builtin registry:
//
//	parts:
//	  - name: attiny88
//	    id: t88
//	    signature: [0x1e, 0x93, 0x11]
//	    flash_size: 8192
//	    page_size: 64
type partFile struct {
	Parts []partDef `yaml:"parts"`
}

type partDef struct {
	Name      string `yaml:"name"`
	ID        string `yaml:"id"`
	Signature []int  `yaml:"signature"`
	FlashSize int    `yaml:"flash_size"`
	PageSize  int    `yaml:"page_size"`
}

// LoadPartFile reads additional part definitions from a YAML file and
// registers them. Definitions that collide with an already registered
// name or id, or whose id repeats their own name, are rejected.
func LoadPartFile(path string) ([]*Part, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pf partFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parts file %s: %v", path, err)
	}

	loaded := make([]*Part, 0, len(pf.Parts))
	for _, def := range pf.Parts {
		p, err := def.part()
		if err != nil {
			return nil, fmt.Errorf("parts file %s: %v", path, err)
		}
		for _, key := range []string{p.Name, p.ID} {
			if key == "" {
				continue
			}
			if _, err := PartByName(key); err == nil {
				return nil, fmt.Errorf("parts file %s: part %q is already registered", path, key)
			}
		}
		RegisterPart(p)
		loaded = append(loaded, p)
	}
	return loaded, nil
}

func (def partDef) part() (*Part, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("part with no name")
	}
	// The registry indexes name and id case-insensitively, so a def
	// whose id repeats its name would collide with itself.
	if strings.EqualFold(def.ID, def.Name) {
		return nil, fmt.Errorf("part %q: id duplicates the name", def.Name)
	}
	if len(def.Signature) != 3 {
		return nil, fmt.Errorf("part %q: signature must be 3 bytes", def.Name)
	}
	var sig [3]byte
	for i, b := range def.Signature {
		if b < 0 || b > 0xFF {
			return nil, fmt.Errorf("part %q: signature byte %d out of range", def.Name, i)
		}
		sig[i] = byte(b)
	}
	if def.FlashSize <= 0 || def.PageSize <= 0 {
		return nil, fmt.Errorf("part %q: flash_size and page_size must be positive", def.Name)
	}
	if def.FlashSize%def.PageSize != 0 {
		return nil, fmt.Errorf("part %q: flash_size is not a multiple of page_size", def.Name)
	}
	return &Part{
		Name:      def.Name,
		ID:        def.ID,
		Signature: sig,
		FlashSize: def.FlashSize,
		PageSize:  def.PageSize,
	}, nil
}
