package main

import "github.com/vzahanych/engagement-edge/cmd"

func main() {
	cmd.Execute()
}
