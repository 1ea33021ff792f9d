package commands

import (
	"github.com/spf13/cobra"

	"github.com/halonetworks/halo/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

// RootCmd is the root command for Halo
var RootCmd = &cobra.Command{
	Use:              "halo",
	Short:            "halo identity substrate",
	TraverseChildren: true,
}
