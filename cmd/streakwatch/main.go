package main

import "streakwatch/internal/cli"

func main() {
	cli.Execute()
}
