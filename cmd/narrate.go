package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	narrationx "github.com/tanpawarit/Chative-Character-Chat/agent/narration"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
)

func newNarrateCmd() *cobra.Command {
	var in narrationx.Input

	cmd := &cobra.Command{
		Use:   "narrate",
		Short: "Generate one narrator line for a scene",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), a.engine.Narration(ctx, in))
				return err
			})
		},
	}

	cmd.Flags().StringVar(&in.Scene, "scene", scenex.PrivateChat, "scene tag")
	cmd.Flags().StringVar(&in.Role, "role", "", "character name")
	cmd.Flags().StringArrayVar(&in.Recent, "recent", nil, "recent dialogue line; repeatable")
	return cmd
}
