package main

import "github.com/jsherman999/watercooler/internal/cli"

func main() {
	cli.Main()
}
