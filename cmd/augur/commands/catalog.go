package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/augur/internal/activity"
	"github.com/dyluth/augur/internal/scaffold"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect activity catalogs",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate an activity catalog",
	Long: `Validate an activity catalog and list the classes it declares.

The path defaults to AUGUR_CATALOG, then augur.yml.

Examples:
  augur catalog validate
  augur catalog validate deploy/arena.yml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalogValidate,
}

var catalogForce bool

var catalogInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter activity catalog",
	Long: `Write a starter augur.yml into dir (default: current directory).

Examples:
  augur catalog init
  augur catalog init deploy/arena --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalogInit,
}

func init() {
	catalogInitCmd.Flags().BoolVarP(&catalogForce, "force", "f", false, "Overwrite an existing catalog")
	catalogCmd.AddCommand(catalogInitCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	if !catalogForce {
		if err := scaffold.CheckExisting(dir); err != nil {
			return out.Error(
				"catalog already initialized",
				err.Error(),
				[]string{"Use 'augur catalog init --force' to overwrite it"},
			)
		}
	}

	path, err := scaffold.Initialize(dir, catalogForce)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}

	out.Success("Created %s\n", path)
	out.Step("Validate it with: augur catalog validate %s\n", path)
	return nil
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	path := os.Getenv("AUGUR_CATALOG")
	if path == "" {
		path = "augur.yml"
	}
	if len(args) == 1 {
		path = args[0]
	}

	catalogCfg, catalog, err := loadCatalog(path)
	if err != nil {
		return err
	}

	out.Success("%s is valid (version %s)\n", path, catalogCfg.Version)
	out.Info("\n%-32s %-30s %-28s %s\n", "CLASS", "ACTIVATION", "INSTANCES", "COOLDOWN")
	for _, name := range catalog.Names() {
		class, _ := catalog.Get(name)
		instances := class.InstancePolicy
		if instances == "" {
			instances = activity.MultipleInstances
		}
		out.Info("%-32s %-30s %-28s %s\n", name, class.ActivationPolicy, instances, class.Cooldown)
	}
	return nil
}
