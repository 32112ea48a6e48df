// This program provides admin operations against a running node.
package main

import "github.com/nomledger/nomledger/app/tooling/admin/cmd"

func main() {
	cmd.Execute()
}
