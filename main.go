package main

import "taskqueue/cmd"

func main() {
	cmd.Run()
}
