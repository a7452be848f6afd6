package main

import "coaching_framework/internal/cli"

func main() {
	cli.Execute()
}
