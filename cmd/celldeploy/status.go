package main

import (
	"fmt"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/artpar/celldeploy/internal/engine"
	"github.com/artpar/celldeploy/internal/shell/prompt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest deployment of the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.deployer(nil).Status(a.cfg.Deploy.Env)
			if err != nil {
				return err
			}
			return printStatus(a, st)
		},
	}
}

type statusView struct {
	Env       string         `yaml:"env"`
	Snapshots int            `yaml:"snapshots"`
	Latest    string         `yaml:"latest,omitempty"`
	Cells     []cellView     `yaml:"cells,omitempty"`
	DepGroups []depGroupView `yaml:"dep_groups,omitempty"`
}

type cellView struct {
	Name             string `yaml:"name"`
	TxHash           string `yaml:"tx_hash"`
	Index            uint32 `yaml:"index"`
	DataHash         string `yaml:"data_hash"`
	OccupiedCapacity string `yaml:"occupied_capacity"`
	TypeID           string `yaml:"type_id,omitempty"`
}

type depGroupView struct {
	Name             string `yaml:"name"`
	TxHash           string `yaml:"tx_hash"`
	Index            uint32 `yaml:"index"`
	OccupiedCapacity string `yaml:"occupied_capacity"`
}

func newStatusView(st *engine.Status) statusView {
	v := statusView{Env: st.Env, Snapshots: len(st.Snapshots), Latest: st.Latest}
	v.Cells, v.DepGroups = recipeViews(st.Recipe)
	return v
}

func recipeViews(r domain.DeploymentRecipe) ([]cellView, []depGroupView) {
	var cells []cellView
	for _, c := range r.CellRecords {
		cv := cellView{
			Name:             c.Name,
			TxHash:           c.TxHash.String(),
			Index:            c.Index,
			DataHash:         c.DataHash.String(),
			OccupiedCapacity: ledger.FormatCapacity(c.OccupiedCapacity),
		}
		if c.IdentityHash != nil {
			cv.TypeID = c.IdentityHash.String()
		}
		cells = append(cells, cv)
	}
	var groups []depGroupView
	for _, g := range r.DepGroupRecords {
		groups = append(groups, depGroupView{
			Name:             g.Name,
			TxHash:           g.TxHash.String(),
			Index:            g.Index,
			OccupiedCapacity: ledger.FormatCapacity(g.OccupiedCapacity),
		})
	}
	return cells, groups
}

func printStatus(a *app, st *engine.Status) error {
	if st.Incomplete {
		prompt.Warningf(a.errOut, "a deployment did not finish, inspect %s before deploying again", st.MarkerPath)
	}
	if st.Latest == "" {
		prompt.Infof(a.errOut, "nothing deployed to %s yet", st.Env)
	}
	text, err := yaml.Marshal(newStatusView(st))
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}
	_, err = a.out.Write(text)
	return err
}
