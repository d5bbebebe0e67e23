package main

import "github.com/bryanchriswhite/minicam/cmd/minicam/commands"

func main() {
	commands.Execute()
}
