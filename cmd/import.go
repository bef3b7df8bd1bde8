package main

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/payload"
	"github.com/sells-group/synthesis-cli/internal/store"
)

var importPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a run, its organizations and analysis modules from a YAML or JSON fixture",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(importPath)
		if err != nil {
			return eris.Wrap(err, "open fixture")
		}
		defer f.Close() //nolint:errcheck

		fx, err := loadFixture(f)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, err := importFixture(ctx, st, fx)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("run_id", runID),
			zap.Int("organizations", len(fx.Organizations)),
			zap.Int("modules", len(fx.Modules)),
			zap.String("file", importPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "file", "", "path to fixture file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

// fixture is the on-disk layout of an importable run. JSON files parse as
// YAML.
type fixture struct {
	Organizations []model.Organization `yaml:"organizations"`
	Run           model.Run            `yaml:"run"`
	Modules       []fixtureModule      `yaml:"modules"`
}

type fixtureModule struct {
	Code          string             `yaml:"code"`
	Status        model.ModuleStatus `yaml:"status"`
	CitationURLs  []string           `yaml:"citation_urls"`
	FailureReason string             `yaml:"failure_reason"`
	// Payload is either an inline mapping or a string holding raw JSON.
	Payload yaml.Node `yaml:"payload"`
}

func loadFixture(r io.Reader) (*fixture, error) {
	var fx fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return nil, eris.Wrap(err, "import: decode fixture")
	}
	if fx.Run.SubjectOrgID == "" {
		return nil, eris.New("import: run.subject_org_id is required")
	}
	return &fx, nil
}

// importFixture writes the fixture to st and returns the run id, generating
// one when the fixture has none.
func importFixture(ctx context.Context, st store.Store, fx *fixture) (string, error) {
	for _, org := range fx.Organizations {
		if err := st.SaveOrganization(ctx, org); err != nil {
			return "", eris.Wrapf(err, "import: save organization %s", org.ID)
		}
	}

	run := fx.Run
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if _, err := st.CreateRun(ctx, run); err != nil {
		return "", eris.Wrapf(err, "import: create run %s", run.ID)
	}

	for _, fm := range fx.Modules {
		raw, err := modulePayload(&fm.Payload)
		if err != nil {
			return "", eris.Wrapf(err, "import: module %s", fm.Code)
		}
		status := fm.Status
		if status == "" {
			status = model.ModuleStatusCompleted
		}
		if err := st.SaveModule(ctx, model.AnalysisModule{
			RunID:         run.ID,
			Code:          fm.Code,
			Status:        status,
			Payload:       raw,
			CitationURLs:  fm.CitationURLs,
			FailureReason: fm.FailureReason,
		}); err != nil {
			return "", eris.Wrapf(err, "import: save module %s", fm.Code)
		}
	}
	return run.ID, nil
}

func modulePayload(n *yaml.Node) ([]byte, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return []byte(n.Value), nil
	default:
		tree, err := payload.FromYAML(n)
		if err != nil {
			return nil, err
		}
		return payload.ToJSON(tree), nil
	}
}
