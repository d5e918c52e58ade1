package main

import "github.com/ftl/netcvadapter/cmd"

func main() {
	cmd.Execute()
}
