package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
	configx "github.com/tanpawarit/Chative-Character-Chat/pkg/config"
)

type sceneView struct {
	Tag         string   `json:"tag"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Priority    string   `json:"priority"`
	Features    []string `json:"features"`
	Fallbacks   []string `json:"fallbacks"`
}

func newScenesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scenes",
		Short: "List the configured scenes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configx.New[appConfig]("CHATIVE")
			if err != nil {
				return err
			}
			scenes, err := loadScenes(*cfg)
			if err != nil {
				return err
			}

			views := make([]sceneView, 0, len(scenes.Tags()))
			for _, tag := range scenes.Tags() {
				c := scenes.Get(tag)
				views = append(views, sceneView{
					Tag:         c.Tag,
					Temperature: c.Temperature,
					MaxTokens:   c.MaxTokens,
					Priority:    c.Priority.String(),
					Features:    c.Features.Names(),
					Fallbacks:   c.Fallbacks,
				})
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			for _, v := range views {
				fmt.Fprintf(w, "%-13s temp=%.1f max_tokens=%d priority=%s features=%s\n",
					v.Tag, v.Temperature, v.MaxTokens, v.Priority, strings.Join(v.Features, ","))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
