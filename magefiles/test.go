// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build mage

package main

import (
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binLint = "golangci-lint"

// Test groups test targets.
type Test mg.Namespace

// All runs every package test.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-v", "./...")
}

// Race runs every package test with the race detector. The recovery guard,
// monitor loop and checkpoint timer are concurrent.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Cover writes a coverage profile to bin/coverage.out.
func (Test) Cover() error {
	mg.Deps(mkBinDir)
	return sh.RunV(binGo, "test", "-coverprofile=bin/coverage.out", "./...")
}

func mkBinDir() error {
	return os.MkdirAll(binaryDir, 0o755)
}

// Lint runs go vet and golangci-lint.
func Lint() error {
	if err := sh.RunV(binGo, "vet", "./..."); err != nil {
		return err
	}
	return sh.RunV(binLint, "run", "./...")
}
