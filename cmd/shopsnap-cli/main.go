package main

import (
	"shopsnap-backend/cmd/shopsnap-cli/cmd"
)

func main() {
	cmd.Execute()
}
