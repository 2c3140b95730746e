// Copyright 2018 OpenChirp. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
//
// June 21, 2018
// Craig Hesling <craig@hesling.com>

package avrboot

import "errors"

// ErrUnrecoverable marks faults after which the programming session
// must not continue: the host and device may have desynchronized, or
// completing the request would corrupt the target's bootloader. Backend
// errors wrap it, so errors.Is(err, ErrUnrecoverable) tells a caller
// whether retrying or proceeding is ever safe. The engine itself never
// terminates the process; that choice belongs to the top-level caller.
var ErrUnrecoverable = errors.New("Unrecoverable programming error")

var ErrTimeout = errors.New("Timed out waiting for device")

var ErrUnsupportedMemory = errors.New("Memory type not supported by this programmer")

var ErrBadArguments = errors.New("The arguments supplied are invalid")

var ErrUnknownPart = errors.New("No part registered under that name")

var ErrUnknownProgrammer = errors.New("No programmer registered under that name")
