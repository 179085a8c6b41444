package main

import "github.com/MrEthical07/openidstore/cmd/openidstore/cmd"

func main() {
	cmd.Execute()
}
