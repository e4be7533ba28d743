// Package main provides the ledgerkeep CLI.
package main

import "github.com/mesh-intelligence/ledgerkeep/internal/cli"

func main() {
	cli.Execute()
}
