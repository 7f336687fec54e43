package main

import "github.com/vibast-solutions/ms-go-pay-ledger/cmd"

func main() {
	cmd.Execute()
}
