package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	narrationx "github.com/tanpawarit/Chative-Character-Chat/agent/narration"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
)

type chatOutput struct {
	Bubbles   []string         `json:"bubbles"`
	Narration string           `json:"narration,omitempty"`
	Stats     *contractx.Stats `json:"stats,omitempty"`
}

func newChatCmd() *cobra.Command {
	var (
		roleID    string
		data      rolex.Data
		scene     string
		priority  string
		narrate   bool
		showStats bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask one character for a reply, split into chat bubbles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			message := strings.Join(args, " ")

			return a.run(cmd.Context(), func(ctx context.Context) error {
				if err := a.engine.LoadRole(ctx, roleID); err != nil {
					return fmt.Errorf("load role: %w", err)
				}
				if strings.TrimSpace(data.Name) != "" {
					if err := a.engine.RegisterRole(roleID, data); err != nil {
						return err
					}
				}

				bubbles, err := a.engine.Reply(ctx, contractx.Request{
					Message:  message,
					Scene:    scene,
					RoleID:   roleID,
					Priority: contractx.ParsePriority(priority),
				})
				if err != nil {
					return err
				}

				out := chatOutput{Bubbles: bubbles}
				if narrate {
					role := a.engine.GetRole(roleID)
					if line, ok := a.engine.Narrate(ctx, narrationx.Input{
						Scene:  scene,
						Role:   role.Name,
						Recent: []string{"我：" + message, role.Name + "：" + strings.Join(bubbles, "")},
					}); ok {
						out.Narration = line
					}
				}
				if showStats {
					stats := a.engine.Stats()
					out.Stats = &stats
				}
				return writeChatOutput(cmd, out, asJSON)
			})
		},
	}

	cmd.Flags().StringVar(&roleID, "role", "default", "character id")
	cmd.Flags().StringVar(&data.Name, "name", "", "character name; registers or updates the character when set")
	cmd.Flags().StringVar(&data.Background, "background", "", "character background")
	cmd.Flags().StringVar(&data.Personality, "personality", "", "character personality")
	cmd.Flags().StringVar(&scene, "scene", scenex.PrivateChat, "scene tag")
	cmd.Flags().StringVar(&priority, "priority", "", "priority override: high, medium or low")
	cmd.Flags().BoolVar(&narrate, "narrate", false, "count this turn for narration and print it when it fires")
	cmd.Flags().BoolVar(&showStats, "stats", false, "print engine stats after the reply")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeChatOutput(cmd *cobra.Command, out chatOutput, asJSON bool) error {
	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, b := range out.Bubbles {
		if _, err := fmt.Fprintln(w, b); err != nil {
			return err
		}
	}
	if out.Narration != "" {
		fmt.Fprintf(w, "（%s）\n", out.Narration)
	}
	if out.Stats != nil {
		s := out.Stats
		fmt.Fprintf(w, "queue=%d active=%d cache=%d memory=%d roles=%d\n",
			s.QueueLength, s.ActiveRequests, s.CacheSize, s.MemorySize, s.RoleCount)
	}
	return nil
}
