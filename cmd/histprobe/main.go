package main

import "github.com/vietddude/histprobe/internal/cli"

func main() {
	cli.Execute()
}
