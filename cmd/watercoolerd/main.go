package main

import "github.com/jsherman999/watercooler/internal/daemon"

func main() {
	daemon.Main()
}
