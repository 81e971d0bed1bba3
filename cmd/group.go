package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	groupx "github.com/tanpawarit/Chative-Character-Chat/agent/group"
)

func parseGroup(id, name string, specs []string) (groupx.Group, error) {
	if len(specs) == 0 {
		return groupx.Group{}, fmt.Errorf("%w: at least one --member is required", contractx.ErrValidation)
	}
	g := groupx.Group{ID: id, Name: name}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	for _, spec := range specs {
		m, err := groupx.ParseMember(spec)
		if err != nil {
			return groupx.Group{}, err
		}
		g.Members = append(g.Members, m)
	}
	return g, nil
}

func newGroupCmd() *cobra.Command {
	var (
		groupID string
		name    string
		members []string
		recent  []string
		deliver bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:     "group <message>",
		Short:   "Post a message to a simulated group chat and collect paced replies",
		Example: "  chative group --member lin:林夏:active --member zhou:周舟:quiet:8-23 \"今晚一起吃饭吗？\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := parseGroup(groupID, name, members)
			if err != nil {
				return err
			}
			a, err := wireApp(cmd.Context(), deliver)
			if err != nil {
				return err
			}
			if deliver && strings.TrimSpace(a.cfg.GroupDestination) == "" {
				return fmt.Errorf("%w: CHATIVE_GROUP_DESTINATION is required with --deliver", contractx.ErrConfig)
			}
			message := strings.Join(args, " ")

			return a.run(cmd.Context(), func(ctx context.Context) error {
				for _, m := range g.Members {
					if err := a.engine.LoadRole(ctx, m.RoleID); err != nil {
						return fmt.Errorf("load role %s: %w", m.RoleID, err)
					}
				}

				items, err := a.engine.GroupReplies(ctx, g, message, recent)
				if err != nil {
					return err
				}
				if deliver {
					if err := a.engine.DeliverGroupReplies(ctx, a.cfg.GroupDestination, g.ID, items); err != nil {
						return err
					}
				}
				return writeGroupItems(cmd, items, asJSON)
			})
		},
	}

	cmd.Flags().StringVar(&groupID, "group-id", "", "group id; random when empty")
	cmd.Flags().StringVar(&name, "group-name", "", "group display name")
	cmd.Flags().StringArrayVar(&members, "member", nil, "member as id:name[:active|normal|quiet[:wake-sleep]]; repeatable")
	cmd.Flags().StringArrayVar(&recent, "recent", nil, "recent group line for context; repeatable")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "publish each reply through QStash after its delay")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeGroupItems(cmd *cobra.Command, items []groupx.Item, asJSON bool) error {
	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	for _, item := range items {
		if item.System {
			fmt.Fprintf(w, "[+%s] * %s\n", item.Delay, item.Content)
			continue
		}
		fmt.Fprintf(w, "[+%s] %s: %s\n", item.Delay, item.Name, item.Content)
	}
	return nil
}
