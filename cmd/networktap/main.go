package main

import "github.com/networktap/networktap/cmd/networktap/commands"

func main() {
	commands.Execute()
}
