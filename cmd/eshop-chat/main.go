package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/eshop-chat/cmd/eshop-chat/cmds"
	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "eshop-chat",
	Short: "Chat with the e-shop assistant from the terminal",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	if err := clay.InitGlazed("eshop-chat", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	chatCmd, err := cmds.NewChatCommand()
	cobra.CheckErr(err)
	askCmd, err := cmds.NewAskCommand()
	cobra.CheckErr(err)
	sendCmd, err := cmds.NewSendCommand()
	cobra.CheckErr(err)
	watchCmd, err := cmds.NewWatchCommand()
	cobra.CheckErr(err)
	relayCmd, err := cmds.NewRelayCommand()
	cobra.CheckErr(err)
	contextCmd, err := cmds.NewContextCommand()
	cobra.CheckErr(err)

	for _, c := range []glazed_cmds.Command{chatCmd, askCmd, sendCmd, watchCmd, relayCmd, contextCmd} {
		command, err := cli.BuildCobraCommand(c)
		cobra.CheckErr(err)
		rootCmd.AddCommand(command)
	}

	cobra.CheckErr(rootCmd.Execute())
}
