package main

import "github.com/kozaktomas/rh360-attendance/cmd"

func main() {
	cmd.Execute()
}
