package main

import "github.com/huddle-rtc/huddle/internal/cli"

func main() {
	cli.Execute()
}
