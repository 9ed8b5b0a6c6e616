package main

import "github.com/walletgate/apiserver/cmd"

func main() {
	cmd.Execute()
}
