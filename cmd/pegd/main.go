package main

import (
	"github.com/tendermint/tmlibs/cli"

	"github.com/bytom/peggateway/cmd/pegd/command"
)

func main() {
	cmd := cli.PrepareBaseCmd(command.RootCmd, "PEGD", "./")
	cmd.Execute()
}
