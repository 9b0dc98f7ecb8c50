package main

import "github.com/vietddude/squai/internal/cli"

func main() {
	cli.Execute()
}
