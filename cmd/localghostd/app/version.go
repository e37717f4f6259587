package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/localghost/pkg/api"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version of LocalGhost",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(api.Version)
		},
	}
}
