package main

import "github.com/jade-gate/jadegate/cmd/jadegate/cmd"

func main() {
	cmd.Execute()
}
