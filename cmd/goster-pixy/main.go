package main

import "github.com/nhirsama/goster-pixy/cli"

func main() {
	cli.Run()
}
