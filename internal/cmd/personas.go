package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/council/internal/persona"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the council members and how they get along",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printPersonas(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(personasCmd)
}

func printPersonas(w io.Writer) {
	fmt.Fprintln(w, headerStyle.Render("THE COUNCIL"))
	fmt.Fprintln(w)
	for _, p := range persona.All() {
		fmt.Fprintf(w, "%s  %s\n", personaLabel(p.ID), systemStyle.Render("@"+string(p.ID)))
		for _, r := range p.Relationships {
			fmt.Fprintf(w, "    %-9s %s\n", r.Kind, persona.Name(r.Target))
		}
		if rivals := persona.Rivals(p.ID); len(rivals) > 0 {
			names := make([]string, len(rivals))
			for i, id := range rivals {
				names[i] = persona.Name(id)
			}
			fmt.Fprintf(w, "    %s\n", systemStyle.Render("gossips about "+strings.Join(names, ", ")))
		}
		fmt.Fprintln(w)
	}
}
