package main

import "github.com/bryanchriswhite/HyprOverview/cmd/hyproverview/commands"

func main() {
	commands.Execute()
}
