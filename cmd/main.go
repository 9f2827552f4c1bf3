package main

import "github.com/theblitlabs/parity-sync/cmd/cli"

func main() {
	cli.Execute()
}
