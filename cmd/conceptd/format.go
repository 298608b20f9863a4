package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/geniusreads/conceptd/internal/analysis"
	"github.com/geniusreads/conceptd/internal/db"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func renderOutcome(out *analysis.Outcome) string {
	var lines []string
	lines = append(lines, titleStyle.Render("Analysis "+out.SessionID.String()))
	if out.Success {
		lines = append(lines, successStyle.Render("✓ complete"))
	} else {
		lines = append(lines, errorStyle.Render("✗ failed: "+out.ErrorMessage))
	}
	lines = append(lines,
		fmt.Sprintf("%s %d", labelStyle.Render("New concepts:"), out.NewConceptsCreated),
		fmt.Sprintf("%s %d", labelStyle.Render("Concepts linked:"), out.ConceptsLinked),
		fmt.Sprintf("%s %d", labelStyle.Render("Relationships created:"), out.RelationshipsCreated),
		mutedStyle.Render(fmt.Sprintf("took %dms", out.DurationMs)),
	)
	if len(out.Concepts) > 0 {
		lines = append(lines, "")
		for _, c := range out.Concepts {
			verb := "merged"
			if c.Created {
				verb = "new"
			}
			line := fmt.Sprintf("  %-6s %s", verb, c.Name)
			if c.Related > 0 {
				line += mutedStyle.Render(fmt.Sprintf(" (+%d related)", c.Related))
			}
			lines = append(lines, line)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func renderConcepts(title string, scored []db.ScoredConcept) string {
	lines := []string{titleStyle.Render(title)}
	if len(scored) == 0 {
		lines = append(lines, mutedStyle.Render("  no concepts"))
	}
	for _, sc := range scored {
		c := sc.Concept
		lines = append(lines, fmt.Sprintf("  %.2f  %s %s",
			sc.Score, labelStyle.Render(c.Name), mutedStyle.Render(c.ID.String())))
		if c.Description != "" {
			lines = append(lines, "        "+truncate(c.Description, 100))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func renderConceptDetail(c *db.Concept, rels []db.ConceptRelationship, names map[string]string, refs []db.SessionRef) string {
	lines := []string{
		titleStyle.Render(c.Name),
		mutedStyle.Render(c.ID.String()),
		c.Description,
		"",
		fmt.Sprintf("%s %.2f", labelStyle.Render("Confidence:"), c.ConfidenceScore),
		fmt.Sprintf("%s %d", labelStyle.Render("Sessions:"), c.SourceChatCount),
	}
	if len(c.Tags) > 0 {
		lines = append(lines, fmt.Sprintf("%s %s", labelStyle.Render("Tags:"), strings.Join(c.Tags, ", ")))
	}
	if c.Embedding == nil {
		lines = append(lines, mutedStyle.Render("no embedding yet"))
	}

	if len(rels) > 0 {
		lines = append(lines, "", labelStyle.Render("Related:"))
		for _, r := range rels {
			name := names[r.TargetConceptID.String()]
			if name == "" {
				name = r.TargetConceptID.String()
			}
			lines = append(lines, fmt.Sprintf("  %.2f  %s", r.SimilarityScore, name))
		}
	}
	if len(refs) > 0 {
		lines = append(lines, "", labelStyle.Render("From sessions:"))
		for _, r := range refs {
			lines = append(lines, fmt.Sprintf("  %.2f  %s %s", r.RelevanceScore, r.Title, mutedStyle.Render(r.SessionID.String())))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func renderLink(c *db.Concept, ref *db.SessionRef) string {
	lines := []string{
		titleStyle.Render(c.Name + " in " + ref.Title),
		fmt.Sprintf("%s %.2f", labelStyle.Render("Relevance:"), ref.RelevanceScore),
		fmt.Sprintf("%s %s", labelStyle.Render("Linked:"), ref.LinkedAt.Format("2006-01-02 15:04")),
		mutedStyle.Render(c.ID.String() + " / " + ref.SessionID.String()),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func renderSession(snap *db.SessionSnapshot, concepts []db.ScoredConcept) string {
	s := snap.Session
	status := string(s.AnalysisStatus)
	if s.Active {
		status += ", active"
	}
	lines := []string{
		titleStyle.Render(s.Title),
		mutedStyle.Render(fmt.Sprintf("%s  (%s)", s.ID, status)),
	}
	if len(snap.Excerpts) > 0 {
		lines = append(lines, "", labelStyle.Render("Excerpts:"))
		for _, e := range snap.Excerpts {
			lines = append(lines, fmt.Sprintf("  %s p.%d: %s", e.DocumentTitle, e.PageNumber, truncate(e.SelectedText, 80)))
		}
	}
	if len(snap.Messages) > 0 {
		lines = append(lines, "", labelStyle.Render("Messages:"))
		for _, m := range snap.Messages {
			lines = append(lines, fmt.Sprintf("  [%s] %s", strings.ToUpper(string(m.Role)), truncate(m.Content, 100)))
		}
	}
	if len(concepts) > 0 {
		lines = append(lines, "", labelStyle.Render("Concepts:"))
		for _, sc := range concepts {
			lines = append(lines, fmt.Sprintf("  %.2f  %s", sc.Score, sc.Concept.Name))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func renderSessionList(sessions []*db.Session) string {
	lines := []string{titleStyle.Render("Sessions")}
	if len(sessions) == 0 {
		lines = append(lines, mutedStyle.Render("  no sessions"))
	}
	for _, s := range sessions {
		marker := " "
		if s.Active {
			marker = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %s  %-10s %s", marker, s.ID, s.AnalysisStatus, s.Title))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
