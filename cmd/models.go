package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vzahanych/engagement-edge/internal/config"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/state"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalogue and the active model",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, closeFn, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		defer closeFn()
		return printModels(os.Stdout, registry)
	},
}

var modelsUseCmd = &cobra.Command{
	Use:   "use <model-id>",
	Short: "Select the model used on next start",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, closeFn, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := registry.SetActive(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Active model: %s\n", registry.Active().ID)
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsUseCmd)
	rootCmd.AddCommand(modelsCmd)
}

// openRegistry builds the registry with the persisted preference restored
func openRegistry(cmd *cobra.Command) (*models.Registry, func(), error) {
	cfgSvc, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg := cfgSvc.Get()

	stateMgr, err := openState(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	registry, err := newRegistry(cfg, stateMgr, log)
	if err != nil {
		stateMgr.Close()
		return nil, nil, err
	}
	registry.Restore(cmd.Context())

	return registry, func() {
		stateMgr.Close()
		log.Sync()
	}, nil
}

func newRegistry(cfg *config.Config, stateMgr *state.Manager, log *logger.Logger) (*models.Registry, error) {
	return models.NewRegistry(models.RegistryConfig{
		DefaultModel:  cfg.Engagement.Models.DefaultModel,
		PreferenceKey: cfg.Engagement.Models.PreferenceKey,
		CatalogueFile: cfg.Engagement.Models.CatalogueFile,
	}, stateMgr, log)
}

func printModels(out io.Writer, registry *models.Registry) error {
	active := registry.Active().ID

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ACTIVE\tID\tNAME\tSEQUENCE\tLANDMARKS\tOUTPUT\tFILE")
	fmt.Fprintln(w, "------\t--\t----\t--------\t---------\t------\t----")

	for _, id := range registry.IDs() {
		d, _ := registry.Get(id)
		marker := ""
		if id == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			marker, d.ID, d.Name, d.Input.SequenceLength, d.Input.NumLandmarks, d.Output.OutputType, d.Filename)
	}
	return w.Flush()
}
