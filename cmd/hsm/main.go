// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-hsm.
//
// go-hsm is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"github.com/awnumar/memguard"

	"github.com/jeremyhahn/go-hsm/internal/cli"
)

func main() {
	// Wipe locked key material on interrupt and before any exit.
	memguard.CatchInterrupt()
	memguard.SafeExit(cli.Execute())
}
