package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nxmigrate/migrate/internal/cliargs"
	"github.com/nxmigrate/migrate/internal/cliui"
	"github.com/nxmigrate/migrate/internal/fetch"
	"github.com/nxmigrate/migrate/internal/installed"
	"github.com/nxmigrate/migrate/internal/migrate"
	"github.com/nxmigrate/migrate/internal/plan"
	"github.com/nxmigrate/migrate/internal/prompt"
	"github.com/nxmigrate/migrate/internal/registry"
	"github.com/nxmigrate/migrate/internal/runner"
	"github.com/nxmigrate/migrate/internal/write"
)

// toolRootPackage is the package whose plan version pins
// installation.version in the workspace config file, and whose installed
// version the plan writer uses for the configuration-split check.
const toolRootPackage = "nx"

func newRootCmd() *cobra.Command {
	var (
		from                     string
		to                       string
		interactive              bool
		excludeAppliedMigrations bool
		runMigrationsFile        string
		ifExists                 bool
		createCommits            bool
		commitPrefix             string
		verbose                  bool
		dryRun                   bool
	)

	cmd := &cobra.Command{
		Use:           "migrate [packageAndVersion]",
		Short:         "Plan and run migrations for an nx-style workspace upgrade",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				_ = os.Setenv("NX_VERBOSE_LOGGING", "true")
			}

			root, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("migrate: resolving workspace root: %w", err)
			}
			fs := afero.NewOsFs()
			ctx := cmd.Context()

			if cmd.Flags().Changed("run-migrations") {
				return runFromFile(ctx, fs, root, runMigrationsFile, ifExists, createCommits, commitPrefix, cmd.OutOrStdout())
			}

			if len(args) != 1 {
				return errors.New("migrate: packageAndVersion is required unless --run-migrations is set")
			}

			return planAndRun(ctx, fs, root, args[0], planOptions{
				from:                     from,
				to:                       to,
				interactive:              interactive,
				excludeAppliedMigrations: excludeAppliedMigrations,
				createCommits:            createCommits,
				commitPrefix:             commitPrefix,
				dryRun:                   dryRun,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&from, "from", "", `override installed versions, e.g. "p1@v1,p2@v2"`)
	cmd.Flags().StringVar(&to, "to", "", `override target versions, e.g. "p1@v1,..."`)
	cmd.Flags().BoolVar(&interactive, "interactive", false, "enable x-prompt gating")
	cmd.Flags().BoolVar(&excludeAppliedMigrations, "excludeAppliedMigrations", false, "also include migrations at or below the installed version whose requires were unmet by the installed versions")
	cmd.Flags().StringVar(&runMigrationsFile, "run-migrations", "migrations.json", "run an already-computed migrations file instead of planning")
	cmd.Flags().Lookup("run-migrations").NoOptDefVal = "migrations.json"
	cmd.Flags().BoolVar(&ifExists, "ifExists", false, "in --run-migrations mode, silently no-op if the file is absent")
	cmd.Flags().BoolVar(&createCommits, "createCommits", false, "commit the working tree after each migration that made changes")
	cmd.Flags().StringVar(&commitPrefix, "commitPrefix", "chore: ", "prefix prepended to each migration's commit message")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "set the process-wide verbose logging flag")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and print the plan without writing or running anything")

	return cmd
}

type planOptions struct {
	from, to                 string
	interactive              bool
	excludeAppliedMigrations bool
	createCommits            bool
	commitPrefix             string
	dryRun                   bool
}

func planAndRun(ctx context.Context, fs afero.Fs, root, targetArg string, opts planOptions, out io.Writer) error {
	target, err := cliargs.ParseTarget(targetArg)
	if err != nil {
		return err
	}
	fromOverrides, err := cliargs.Overrides(opts.from)
	if err != nil {
		return err
	}
	toOverrides, err := cliargs.Overrides(opts.to)
	if err != nil {
		return err
	}

	installedResolver := installed.New(fs, root, fromOverrides)

	directDeps, directDevDeps, err := readDirectDependencySets(fs, filepath.Join(root, "package.json"))
	if err != nil {
		return err
	}

	scratchDir := filepath.Join(os.TempDir(), "nx-migrate")
	reg := registry.New(scratchDir)
	fetcher := fetch.New(reg)

	var prompter prompt.Prompter = prompt.AutoConfirm{}
	if opts.interactive {
		prompter = prompt.NewHuhPrompter()
	}

	migrator := plan.New(plan.Config{
		Fetcher:                  fetcher,
		Installed:                installedResolver,
		Prompter:                 prompter,
		Interactive:              opts.interactive,
		ExcludeAppliedMigrations: opts.excludeAppliedMigrations,
		To:                       toOverrides,
		FromOverrides:            fromOverrides,
		DirectDependencies:       directDeps,
		DirectDevDependencies:    directDevDeps,
	})

	computedPlan, err := migrator.Migrate(ctx, target.Package, target.Version)
	if err != nil {
		return err
	}

	if opts.dryRun {
		return printPlan(out, computedPlan)
	}

	installedToolRootVersion, _ := installedResolver.Resolve(toolRootPackage)
	if err := write.WritePlan(fs, computedPlan, write.Options{
		WorkspaceRoot:            root,
		ToolRootPackage:          toolRootPackage,
		InstalledToolRootVersion: installedToolRootVersion,
	}); err != nil {
		return err
	}

	migrations := write.BuildMigrations(computedPlan, installedToolRootVersion)
	return runMigrations(ctx, fs, root, migrations, opts.createCommits, opts.commitPrefix, out)
}

func runFromFile(ctx context.Context, fs afero.Fs, root, path string, ifExists, createCommits bool, commitPrefix string, out io.Writer) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && ifExists {
			return nil
		}
		return fmt.Errorf("migrate: reading %s: %w", path, err)
	}

	var doc struct {
		Migrations []migrate.MigrationEntry `json:"migrations"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("migrate: parsing %s: %w", path, err)
	}

	return runMigrations(ctx, fs, root, doc.Migrations, createCommits, commitPrefix, out)
}

func runMigrations(ctx context.Context, fs afero.Fs, root string, migrations []migrate.MigrationEntry, createCommits bool, commitPrefix string, out io.Writer) error {
	skipInstall, _ := strconv.ParseBool(os.Getenv("NX_MIGRATE_SKIP_INSTALL"))

	run := runner.New(runner.Options{
		Fs:              fs,
		WorkspaceRoot:   root,
		Implementations: runner.NewNodeGeneratorResolver(),
		Committer:       runner.NewExecGitCommitter(),
		Installer:       runner.NewExecInstaller(),
		Out:             out,
		CreateCommits:   createCommits,
		CommitPrefix:    commitPrefix,
		SkipInstall:     skipInstall,
	})

	summary, err := run.Run(ctx, migrations)
	if err != nil {
		return err
	}

	cliui.PrintSuccess(out, fmt.Sprintf("Migration complete: %d applied, %d skipped, %d commits", len(summary.Applied), len(summary.Skipped), len(summary.Commits)))
	return nil
}

type packageJSONDependencies struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// readDirectDependencySets reads the names declared in package.json's
// dependencies/devDependencies sections, for the planner's
// packageJsonUpdates filter. A missing manifest yields empty sets rather
// than an error: the planner still has installed-version data from
// node_modules to work with.
func readDirectDependencySets(fs afero.Fs, path string) (map[string]bool, map[string]bool, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]bool{}, map[string]bool{}, nil
		}
		return nil, nil, fmt.Errorf("migrate: reading %s: %w", path, err)
	}

	var parsed packageJSONDependencies
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, fmt.Errorf("migrate: parsing %s: %w", path, err)
	}

	deps := make(map[string]bool, len(parsed.Dependencies))
	for name := range parsed.Dependencies {
		deps[name] = true
	}
	devDeps := make(map[string]bool, len(parsed.DevDependencies))
	for name := range parsed.DevDependencies {
		devDeps[name] = true
	}
	return deps, devDeps, nil
}

func printPlan(out io.Writer, computedPlan *migrate.Plan) error {
	encoded, err := json.MarshalIndent(computedPlan, "", "  ")
	if err != nil {
		return fmt.Errorf("migrate: encoding plan: %w", err)
	}
	encoded = append(encoded, '\n')
	_, err = out.Write(encoded)
	return err
}
