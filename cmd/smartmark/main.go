package main

import "github.com/MrSnakeDoc/smartmark/cmd/smartmark/cmd"

func main() {
	cmd.Execute()
}
