// Package report prints retained releases for people (Text) and for
// other programs (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/artpar/retainer/internal/core/domain"
	"github.com/artpar/retainer/internal/core/retention"
	"github.com/charmbracelet/lipgloss"
)

// styles is bound to one writer's renderer so that colors are only emitted
// to terminals.
type styles struct {
	name  lipgloss.Style
	value lipgloss.Style
	empty lipgloss.Style
	note  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		name:  r.NewStyle().Bold(true),
		value: r.NewStyle().Foreground(lipgloss.Color("76")),
		empty: r.NewStyle().Foreground(lipgloss.Color("243")),
		note:  r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

// Text writes one line per known project and environment, in snapshot
// order, followed by a note about pairs that could not be filled.
// Pairs with nothing retained are printed as "empty".
func Text(w io.Writer, snapshot domain.Snapshot, result *retention.Result) error {
	st := newStyles(w)
	n := result.AmountOfReleases

	var b strings.Builder
	for _, project := range snapshot.Projects {
		for _, env := range snapshot.Environments {
			versions := result.Releases.Versions(project.Name, env.Name)

			value := st.empty.Render("empty")
			if len(versions) > 0 {
				value = st.value.Render(strings.Join(versions, ", "))
			}

			fmt.Fprintf(&b, "For Project: %s and ENV: %s the last %d releases: %s\n",
				st.name.Render(fmt.Sprintf("%q", project.Name)),
				st.name.Render(fmt.Sprintf("%q", env.Name)),
				n, value)
		}
	}

	b.WriteString(st.note.Render(fmt.Sprintf(
		"If the number of releases is less than %d, not every project/env combination had enough deployments of valid releases", n)))
	b.WriteString("\n")

	if skipped := skippedLine(result.Stats); skipped != "" {
		b.WriteString(st.note.Render(skipped))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func skippedLine(stats retention.Stats) string {
	var parts []string
	if stats.OrphanedDeployments > 0 {
		parts = append(parts, fmt.Sprintf("%d deployments of unknown releases", stats.OrphanedDeployments))
	}
	if stats.UnknownEnvironmentDeployments > 0 {
		parts = append(parts, fmt.Sprintf("%d deployments to unknown environments", stats.UnknownEnvironmentDeployments))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Skipped " + strings.Join(parts, " and ")
}

// JSON writes the result as indented JSON.
func JSON(w io.Writer, result *retention.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
