package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/geniusreads/conceptd/internal/app"
	"github.com/geniusreads/conceptd/internal/db"
)

func newConceptsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "concepts",
		Aliases: []string{"concept"},
		Short:   "Browse and search the concept population",
	}
	cmd.AddCommand(
		newConceptsListCmd(configPath),
		newConceptsShowCmd(configPath),
		newConceptsSearchCmd(configPath),
		newConceptsSimilarCmd(configPath),
		newConceptsLinkCmd(configPath),
	)
	return cmd
}

func newConceptsListCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently updated concepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			concepts, err := a.Store.ListConcepts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			scored := make([]db.ScoredConcept, 0, len(concepts))
			for _, c := range concepts {
				scored = append(scored, db.ScoredConcept{Concept: c, Score: c.ConfidenceScore})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderConcepts("Concepts", scored))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum concepts to list")
	return cmd
}

func newConceptsShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <concept-id>",
		Short: "Show a concept with its relationships and sessions",
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

			ctx := cmd.Context()
			c, err := a.Store.GetConcept(ctx, id)
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("concept %s not found", id)
			}
			rels, err := a.Store.RelationshipsFor(ctx, id)
			if err != nil {
				return err
			}
			names := make(map[string]string, len(rels))
			for _, r := range rels {
				if target, err := a.Store.GetConcept(ctx, r.TargetConceptID); err == nil && target != nil {
					names[r.TargetConceptID.String()] = target.Name
				}
			}
			refs, err := a.Store.SessionsForConcept(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderConceptDetail(c, rels, names, refs))
			return nil
		},
	}
}

func newConceptsSearchCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find concepts by meaning, falling back to text matching",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			res, err := a.Searcher.Query(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			title := fmt.Sprintf("Search results (%s)", res.Mode)
			fmt.Fprint(cmd.OutOrStdout(), renderConcepts(title, res.Concepts))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	return cmd
}

func newConceptsSimilarCmd(configPath *string) *cobra.Command {
	var (
		limit     int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "similar <concept-id>",
		Short: "List concepts whose embeddings are close to a concept",
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

			if !cmd.Flags().Changed("threshold") {
				threshold = a.Config.Matching.RelatedThreshold
			}
			scored, err := a.Searcher.Similar(cmd.Context(), id, threshold, limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderConcepts("Similar concepts", scored))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.7, "minimum cosine similarity")
	return cmd
}

func newConceptsLinkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "link <concept-id> <session-id>",
		Short: "Show how a concept is linked to one session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conceptID, err := parseID(args[0])
			if err != nil {
				return err
			}
			sessionID, err := parseID(args[1])
			if err != nil {
				return err
			}
			a, closeApp, err := openApp(cmd, *configPath, app.Options{})
			if err != nil {
				return err
			}
			defer closeApp()

			ctx := cmd.Context()
			c, err := a.Store.GetConcept(ctx, conceptID)
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("concept %s not found", conceptID)
			}
			ref, err := a.Store.SessionLink(ctx, conceptID, sessionID)
			if err != nil {
				return err
			}
			if ref == nil {
				return fmt.Errorf("concept %s is not linked to session %s", conceptID, sessionID)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderLink(c, ref))
			return nil
		},
	}
}
