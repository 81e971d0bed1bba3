package cmd

import (
	"github.com/spf13/cobra"
	configx "github.com/tanpawarit/Chative-Character-Chat/pkg/config"
	logx "github.com/tanpawarit/Chative-Character-Chat/pkg/logger"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:          "chative",
		Short:        "Character chat engine with paced multi-bubble replies",
		Long:         "chative drives simulated characters in private chats, group chats, forums, feeds and cards. Model calls are queued by priority, replies are cached and split into chat bubbles, and every character keeps its own memory.",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			configx.SetEnvFile(envFile)
			logCfg, err := configx.New[logx.Config]("LOG")
			if err != nil {
				return err
			}
			logx.Init(*logCfg)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to .env file")

	rootCmd.AddCommand(
		newChatCmd(),
		newGroupCmd(),
		newNarrateCmd(),
		newScenesCmd(),
	)
	return rootCmd
}
