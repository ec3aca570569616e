package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gisengine/pkg/component"
)

func newComponentsCommand(c *cli) *cobra.Command {
	var (
		search, category, typ string
		asJSON                bool
	)
	cmd := &cobra.Command{
		Use:   "components",
		Short: "List registered components",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := buildStack(cmd.Context(), c.cfg, nil, nil)
			if err != nil {
				return err
			}
			reg := st.registry
			ids := reg.List()
			if search = strings.TrimSpace(search); search != "" {
				ids = keep(ids, reg.Search(search))
			}
			if category != "" {
				ids = keep(ids, reg.ListByCategory(category))
			}
			if typ != "" {
				t, err := component.ParseType(typ)
				if err != nil {
					return err
				}
				ids = keep(ids, reg.ListByType(t))
			}
			sort.Strings(ids)

			metas := make([]component.Metadata, 0, len(ids))
			for _, id := range ids {
				if m, ok := reg.Metadata(id); ok {
					metas = append(metas, m)
				}
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(metas)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tCATEGORY\tVERSION\tNAME")
			for _, m := range metas {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Type, m.Category, m.Version, m.Name)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVarP(&search, "search", "s", "", "case-insensitive match on name, description and tags")
	f.StringVar(&category, "category", "", "only this category")
	f.StringVarP(&typ, "type", "t", "", "only this type ("+strings.Join(typeNames(), ", ")+")")
	f.BoolVar(&asJSON, "json", false, "print metadata as JSON")
	return cmd
}

func typeNames() []string {
	var names []string
	for _, t := range component.Types() {
		names = append(names, string(t))
	}
	return names
}

func keep(ids, allowed []string) []string {
	set := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		set[id] = true
	}
	var out []string
	for _, id := range ids {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}
