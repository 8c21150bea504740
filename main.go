package main

import "github.com/mirahollis/classphoto-organizer/cmd"

func main() {
	cmd.Execute()
}
