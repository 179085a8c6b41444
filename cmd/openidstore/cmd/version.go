package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/MrEthical07/openidstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "openidstore v%s\n", openidstore.Version)
		configfile := expandHome(viper.GetString("config_file"))
		expanded, err := filepath.Abs(configfile)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Error expanding config file: %s\n", err)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Config file:", expanded)
		}
	},
}
