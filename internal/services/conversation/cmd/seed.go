package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/irrigation_session/internal/model"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/persistence"
)

// seedFile is the provisioning format accepted by `irrigationd seed`.
type seedFile struct {
	Operators []struct {
		ID         string `yaml:"id"`
		ChatHandle string `yaml:"chat_handle"`
		FirstName  string `yaml:"first_name"`
	} `yaml:"operators"`
	Plots []struct {
		ID          string  `yaml:"id"`
		Operator    string  `yaml:"operator"`
		Name        string  `yaml:"name"`
		DeviceClass string  `yaml:"device_class"`
		Area        float64 `yaml:"area"`
		IE          float64 `yaml:"ie"`
		WA          float64 `yaml:"wa"`
		Irrigation  bool    `yaml:"irrigation"`
	} `yaml:"plots"`
	Requirements []struct {
		Plot       string   `yaml:"plot"`
		Date       string   `yaml:"date"`
		RequiredMM float64  `yaml:"required_mm"`
		PHIc       *float64 `yaml:"phic"`
		PHIt       *float64 `yaml:"phit"`
	} `yaml:"requirements"`
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load operators, plots and daily requirements into SQLite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var sf seedFile
			if err := yaml.Unmarshal(raw, &sf); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			gw, closeDB, err := openGateway(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := seed(cmd.Context(), gw, sf, cfg.Location()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d operators, %d plots, %d requirements\n",
				len(sf.Operators), len(sf.Plots), len(sf.Requirements))
			return nil
		},
	}
}

func seed(ctx context.Context, gw *persistence.SQLGateway, sf seedFile, loc *time.Location) error {
	for _, op := range sf.Operators {
		if err := gw.UpsertOperator(ctx, op.ID, op.ChatHandle, op.FirstName); err != nil {
			return fmt.Errorf("operator %s: %w", op.ID, err)
		}
	}
	for _, p := range sf.Plots {
		class, err := model.ParseDeviceClass(p.DeviceClass)
		if err != nil {
			return fmt.Errorf("plot %s: %w", p.ID, err)
		}
		pc := model.PlotContext{
			PlotID:      p.ID,
			OperatorID:  p.Operator,
			DisplayName: p.Name,
			DeviceClass: class,
			Area:        p.Area,
			IE:          p.IE,
			WA:          p.WA,
		}
		if err := pc.Validate(); err != nil {
			return err
		}
		if err := gw.UpsertPlot(ctx, pc, p.Irrigation); err != nil {
			return fmt.Errorf("plot %s: %w", p.ID, err)
		}
	}
	for _, r := range sf.Requirements {
		day, err := time.ParseInLocation("2006-01-02", r.Date, loc)
		if err != nil {
			return fmt.Errorf("requirement %s: %w", r.Plot, err)
		}
		if err := gw.PutRequirement(ctx, r.Plot, day, r.RequiredMM, r.PHIc, r.PHIt); err != nil {
			return fmt.Errorf("requirement %s %s: %w", r.Plot, r.Date, err)
		}
	}
	return nil
}
