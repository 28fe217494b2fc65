package main

import "mini-jsonrpc/cmd/rpcctl/command"

func main() {
	command.Execute()
}
