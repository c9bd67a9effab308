package main

import (
	"context"
	"fmt"

	"github.com/leochame/lavis/internal/actuator"
	"github.com/leochame/lavis/internal/skills"
	"github.com/leochame/lavis/internal/store"
	"github.com/spf13/cobra"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect and reload the skill registry",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every skill in the current tool-spec snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSkillsList(cmd.Context())
	},
}

var skillsReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Force a cold re-parse of the skills directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSkillsReload(cmd.Context())
	},
}

func init() {
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsReloadCmd)
}

func openSkillsRegistry(ctx context.Context) (*skills.Registry, *store.Store, error) {
	st, err := store.Open(storeDBPath(), cfg.Store.BackupRetain, cfg.Store.BackupHourUTC)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	act := actuator.New(cfg.Actuator, actuator.NewExecBackend())
	reg := skills.New(cfg.Skills.Root, act, st)
	if err := reg.Load(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("load skills: %w", err)
	}
	return reg, st, nil
}

func runSkillsList(ctx context.Context) error {
	reg, st, err := openSkillsRegistry(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer reg.Close()

	for _, sp := range reg.Snapshot() {
		fmt.Printf("%-24s %s\n", sp.Name, sp.Description)
	}
	return nil
}

func runSkillsReload(ctx context.Context) error {
	reg, st, err := openSkillsRegistry(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer reg.Close()

	fmt.Printf("reloaded %d skills\n", len(reg.Snapshot()))
	return nil
}
