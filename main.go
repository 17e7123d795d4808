// The main package for the policywatch executable.
package main

import (
	"github.com/SaptorsheeNag/us-policywatch-sub001/cmd"
)

func main() {
	cmd.Execute()
}
