package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"neuralcraft/internal/client"
	"neuralcraft/internal/tui"
)

type playOptions struct {
	server   string
	userID   string
	username string
}

func newPlayCommand(root *rootOptions) *cobra.Command {
	opts := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Open the terminal client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			server := opts.server
			if server == "" {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				server = strings.TrimRight(cfg.Server.PublicURL, "/") + "/" + strings.Trim(cfg.Server.BasePath, "/")
			}
			userID := opts.userID
			if userID == "" {
				userID = os.Getenv("NEURALCRAFT_USER_ID")
			}
			if userID == "" {
				userID = uuid.NewString()
				fmt.Fprintf(cmd.ErrOrStderr(), "playing as new user %s (pass --user to continue later)\n", userID)
			}
			if _, err := uuid.Parse(userID); err != nil {
				return fmt.Errorf("user id %q is not a UUID", userID)
			}

			c := client.New(server, 2*time.Minute)
			if opts.username != "" {
				if err := c.SetUsername(cmd.Context(), userID, opts.username); err != nil {
					return fmt.Errorf("set username: %w", err)
				}
			}
			_, err := tea.NewProgram(tui.New(cmd.Context(), c, userID), tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "API base URL (default from server.public_url and server.base_path)")
	cmd.Flags().StringVar(&opts.userID, "user", "", "Player id (UUID); defaults to $NEURALCRAFT_USER_ID or a new id")
	cmd.Flags().StringVar(&opts.username, "name", "", "Leaderboard name to set before playing")
	return cmd
}
