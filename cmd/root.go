package cmd

import (
	"context"
	"io"
	"net/http"

	"github.com/nuts-foundation/ehrbridge/component/destination"
	"github.com/nuts-foundation/ehrbridge/component/hl7v2"
	"github.com/nuts-foundation/ehrbridge/component/pipeline"
	"github.com/nuts-foundation/ehrbridge/component/source"
	"github.com/nuts-foundation/ehrbridge/component/terminology"
	"github.com/nuts-foundation/ehrbridge/lib/artifacts"
	"github.com/nuts-foundation/ehrbridge/lib/httpauth"
	"github.com/nuts-foundation/ehrbridge/lib/logging"
	"github.com/nuts-foundation/ehrbridge/lib/statestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var taskDescriptions = map[string]string{
	pipeline.TaskExplore:         "List matching source patients and the conditions of the migrated patient",
	pipeline.TaskParentCondition: "Create the patient and a condition coded with the parent concept on the destination EHR",
	pipeline.TaskChildCondition:  "Create a condition coded with the child concept on the destination EHR",
	pipeline.TaskObservation:     "Create the blood pressure observation on the destination EHR",
	pipeline.TaskProcedure:       "Create the procedure on the destination EHR",
	pipeline.TaskADT:             "Build the HL7 v2 ADT^A01 message",
	pipeline.TaskValidate:        "Validate the fixtures using the destination EHR's $validate operation",
	pipeline.TaskInsights:        "Write the report comparing resource counts on source and destination EHR",
}

type rootOptions struct {
	configFile string
	dataDir    string
}

// Execute runs the command line interface. It returns when the command completed or the context is cancelled.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "ehrbridge",
		Short:        "Migrates a patient record from the source EHR to the primary EHR",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to the YAML config file (default "+DefaultConfigFile+")")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding credentials, handles and artifacts (overrides datadir)")

	for _, name := range pipeline.TaskNames {
		taskName := name
		root.AddCommand(&cobra.Command{
			Use:   taskName,
			Short: taskDescriptions[taskName],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runWithPipeline(cmd, opts, func(ctx context.Context, p *pipeline.Pipeline) error {
					task, err := p.Task(taskName, &pipeline.State{})
					if err != nil {
						return err
					}
					return task.Run(ctx)
				})
			},
		})
	}
	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run all tasks in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithPipeline(cmd, opts, func(ctx context.Context, p *pipeline.Pipeline) error {
				return p.Run(ctx)
			})
		},
	})
	root.AddCommand(newVersionCommand())
	return root
}

func runWithPipeline(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, p *pipeline.Pipeline) error) error {
	config, err := LoadConfig(opts.configFile)
	if err != nil {
		return err
	}
	if opts.dataDir != "" {
		config.DataDir = opts.dataDir
	}
	if err := logging.Init(config.Log); err != nil {
		return errors.Wrap(err, "failed to initialize logging")
	}
	ctx := log.Logger.WithContext(cmd.Context())

	p, closeFn, err := newPipeline(ctx, config, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("Failed to close state store")
		}
	}()
	return fn(ctx, p)
}

func newPipeline(ctx context.Context, config Config, out io.Writer) (*pipeline.Pipeline, func() error, error) {
	dir, err := artifacts.New(config.DataDir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open data directory")
	}

	sourceHTTPClient, err := httpauth.NewHTTPClient(config.Auth, config.DataDir, nil)
	if httpauth.IsCredentialMissing(err) {
		log.Ctx(ctx).Warn().Err(err).Msg("No credentials for the source EHR, continuing unauthenticated")
	} else if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create source EHR HTTP client")
	}
	sourceClient, err := source.New(config.Source, sourceHTTPClient)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create source EHR client")
	}
	terminologyClient, err := terminology.New(config.Terminology)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create terminology client")
	}
	destinationClient, err := destination.New(config.Destination, &http.Client{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create destination EHR client")
	}
	store, err := statestore.New(config.State, config.DataDir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create state store")
	}
	return &pipeline.Pipeline{
		Source:          sourceClient,
		Terminology:     terminologyClient,
		Destination:     destinationClient,
		Store:           store,
		Artifacts:       dir,
		Builder:         hl7v2.NewBuilder(),
		SourcePatientID: config.Source.PatientID,
		Explore:         config.Explore,
		Out:             out,
	}, store.Close, nil
}
