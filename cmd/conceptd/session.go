package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/geniusreads/conceptd/internal/app"
	"github.com/geniusreads/conceptd/internal/db"
)

func newSessionCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chat sessions",
	}
	cmd.AddCommand(
		newSessionNewCmd(configPath),
		newSessionMessageCmd(configPath),
		newSessionExcerptCmd(configPath),
		newSessionEndCmd(configPath),
		newSessionShowCmd(configPath),
		newSessionListCmd(configPath),
		newSessionActivateCmd(configPath),
		newSessionRenameCmd(configPath),
	)
	return cmd
}

func newSessionNewCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "new <title>",
		Short: "Start a new active session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			s, err := a.Store.CreateSession(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		},
	}
}

func newSessionMessageCmd(configPath *string) *cobra.Command {
	var (
		role      string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "message <text>",
		Short: "Append a message to a session (the active one by default)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := db.Role(strings.ToLower(role))
			if !r.Valid() {
				return fmt.Errorf("role must be user or assistant, got %q", role)
			}
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			id, err := sessionArg(cmd.Context(), a, optional(sessionID))
			if err != nil {
				return err
			}
			if _, err := a.Store.AddMessage(cmd.Context(), id, r, strings.Join(args, " ")); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "user", "message author: user or assistant")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: active session)")
	return cmd
}

func newSessionExcerptCmd(configPath *string) *cobra.Command {
	var (
		sessionID string
		document  string
		title     string
		page      int
	)
	cmd := &cobra.Command{
		Use:   "excerpt <text>",
		Short: "Attach a highlighted passage to a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			id, err := sessionArg(cmd.Context(), a, optional(sessionID))
			if err != nil {
				return err
			}
			docID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(document))
			if parsed, err := uuid.Parse(document); err == nil {
				docID = parsed
			}
			return a.Store.AddExcerpt(cmd.Context(), &db.Excerpt{
				SessionID:     id,
				DocumentID:    docID,
				DocumentTitle: title,
				PageNumber:    page,
				SelectedText:  strings.Join(args, " "),
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: active session)")
	cmd.Flags().StringVar(&document, "document", "", "document id or path")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().IntVar(&page, "page", 0, "page number")
	return cmd
}

func newSessionEndCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "end [session-id]",
		Short: "Mark a session as finished without analyzing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			id, err := sessionArg(cmd.Context(), a, args)
			if err != nil {
				return err
			}
			return a.Store.EndSession(cmd.Context(), id)
		},
	}
}

func newSessionActivateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <session-id>",
		Short: "Make a session the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()
			return a.Store.ActivateSession(cmd.Context(), id)
		},
	}
}

func newSessionRenameCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <title>",
		Short: "Change a session's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return fmt.Errorf("title must not be blank")
			}
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()
			return a.Store.RenameSession(cmd.Context(), id, title)
		},
	}
}

func newSessionShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show a session's transcript and linked concepts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			ctx := cmd.Context()
			id, err := sessionArg(ctx, a, args)
			if err != nil {
				return err
			}
			snap, err := a.Store.GetForAnalysis(ctx, id)
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("session %s not found", id)
			}
			concepts, err := a.Store.ConceptsForSession(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSession(snap, concepts))
			return nil
		},
	}
}

func newSessionListCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			sessions, err := a.Store.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSessionList(sessions))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum sessions to list")
	return cmd
}

func optional(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}
