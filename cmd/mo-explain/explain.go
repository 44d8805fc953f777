// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matrixorigin/mocascades/pkg/common/moerr"
	"github.com/matrixorigin/mocascades/pkg/config"
	"github.com/matrixorigin/mocascades/pkg/logutil"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/cascades"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/cost"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/memo"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/property"
	"github.com/matrixorigin/mocascades/pkg/sql/plan/rule"
)

// explainContext holds the flag values of one invocation.
type explainContext struct {
	configFile   string
	inputFile    string
	distribution string
	ordering     string
	showMemo     bool
}

func newExplainCommand() *cobra.Command {
	ec := &explainContext{}
	cmd := &cobra.Command{
		Use:   "mo-explain --input=<tree.json> [--config=<file.toml>]",
		Short: "optimize a logical plan and print the chosen physical plan",
		Long: `
Read a logical operator tree from a JSON file, run the cascades search over
it and print the cheapest physical plan meeting the required distribution
and ordering, followed by search statistics.

With --memo the final memo is printed as well, one row per expression, and
one row per optimization context.
`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ec.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&ec.configFile, "config", "", "TOML file with [log] and [search] sections")
	f.StringVar(&ec.inputFile, "input", "", "JSON file holding the logical tree")
	f.StringVar(&ec.distribution, "distribution", "any", `required distribution: any, singleton, replicated, random or hashed:<cols>`)
	f.StringVar(&ec.ordering, "order", "", `required ordering, e.g. "1,3 desc"`)
	f.BoolVar(&ec.showMemo, "memo", false, "print the memo after the search")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (ec *explainContext) loadConfig(ctx context.Context) (*config.Config, error) {
	if ec.configFile == "" {
		return config.NewConfig(), nil
	}
	return config.LoadFile(ctx, ec.configFile)
}

func (ec *explainContext) required(ctx context.Context) (*property.Required, error) {
	dist, err := parseDistribution(ctx, ec.distribution)
	if err != nil {
		return nil, err
	}
	order, err := parseOrdering(ctx, ec.ordering)
	if err != nil {
		return nil, err
	}
	return property.NewRequired(dist, order), nil
}

func (ec *explainContext) run(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := ec.loadConfig(ctx)
	if err != nil {
		return err
	}
	logutil.SetupMOLogger(&cfg.Log)

	tree, err := readTree(ctx, ec.inputFile)
	if err != nil {
		return err
	}
	required, err := ec.required(ctx)
	if err != nil {
		return err
	}
	rules, err := rule.DefaultSet(ctx)
	if err != nil {
		return err
	}
	model := cost.NewModel()
	opt := cascades.New(rules, model, model, &cfg.Search)
	if _, err = opt.Init(ctx, tree); err != nil {
		return err
	}

	plan, err := opt.Optimize(ctx, required)
	stats := opt.Stats()
	logutil.Info("explain finished",
		zap.String("query_id", stats.QueryID),
		zap.String("input", ec.inputFile),
		zap.Stringer("required", required))
	switch {
	case err == nil:
		fmt.Fprintf(out, "required: %s\n%s", required, plan)
	case moerr.IsMoErrCode(err, moerr.ErrNoPlanFound):
		fmt.Fprintf(out, "required: %s\nno plan\n", required)
	default:
		return err
	}
	fmt.Fprintf(out, "stats: %s\n", stats)
	if ec.showMemo {
		fmt.Fprintln(out)
		writeMemo(out, opt.Memo(), opt.RootContext())
	}
	return err
}

// writeMemo renders the groups of m and their optimization contexts.
func writeMemo(out io.Writer, m *memo.Memo, root *memo.OptimizationContext) {
	exprs := tablewriter.NewWriter(out)
	exprs.SetHeader([]string{"Group", "Expr", "Operator", "Rules"})
	exprs.SetAutoWrapText(false)
	exprs.SetAutoMergeCellsByColumnIndex([]int{0})
	for _, g := range m.Groups() {
		name := g.ID().String()
		if g.ID() == m.Root().ID() {
			name += " (root)"
		}
		for _, e := range g.Exprs() {
			exprs.Append([]string{
				name,
				"#" + strconv.FormatUint(uint64(e.ID()), 10),
				e.String(),
				strconv.Itoa(e.AppliedRules()),
			})
		}
	}
	exprs.Render()

	contexts := tablewriter.NewWriter(out)
	contexts.SetHeader([]string{"Group", "Required", "State", "Best", "Cost"})
	contexts.SetAutoWrapText(false)
	contexts.SetAutoMergeCellsByColumnIndex([]int{0})
	for _, g := range m.Groups() {
		for _, octx := range g.OptContexts() {
			state := octx.State().String()
			if octx == root {
				state += " (root)"
			}
			best, cost := "-", "-"
			if cc := octx.Best(); cc != nil {
				best = "#" + strconv.FormatUint(uint64(cc.Expr().ID()), 10)
				cost = strconv.FormatFloat(cc.Cost(), 'f', 2, 64)
			}
			contexts.Append([]string{g.ID().String(), octx.Required().String(), state, best, cost})
		}
	}
	contexts.Render()
}
