package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/objectstore"
	"github.com/book-expert/tts-proxy/internal/service"
	"github.com/book-expert/tts-proxy/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const (
	defaultPrefix      = "tts"
	defaultAudioBucket = "TTS_AUDIO"
	defaultTimeout     = 2 * time.Minute
	logFileName        = "ttsctl.log"
	passwordEnv        = "TTS_PASSWORD"
	outputFilePerm     = 0o600
)

var (
	errModelOrVoice  = errors.New("exactly one of --model or --voice is required")
	errNoVoicesFound = errors.New("no voices found")
)

// app holds state shared by every subcommand.
type app struct {
	natsURL string
	prefix  string
	timeout time.Duration

	natsConnection *nats.Conn
	client         *rpcClient
	log            *logger.Logger
}

// NewRootCmd builds the ttsctl command tree.
func NewRootCmd() *cobra.Command {
	state := &app{}

	rootCmd := &cobra.Command{
		Use:           "ttsctl",
		Short:         "ttsctl talks to the TTS proxy over NATS",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.connect()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			state.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&state.natsURL, "nats-url", nats.DefaultURL, "NATS server URL")
	rootCmd.PersistentFlags().StringVar(&state.prefix, "prefix", defaultPrefix, "subject prefix the service listens on")
	rootCmd.PersistentFlags().DurationVar(&state.timeout, "timeout", defaultTimeout, "per-request timeout")

	rootCmd.AddCommand(
		newLoginCmd(state),
		newVoicesCmd(state),
		newSayCmd(state),
		newStatusCmd(state),
		newFetchCmd(state),
	)

	return rootCmd
}

func (a *app) connect() error {
	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	natsConnection, err := nats.Connect(a.natsURL, nats.Name("ttsctl"))
	if err != nil {
		_ = log.Close()

		return fmt.Errorf("failed to connect to NATS at %s: %w", a.natsURL, err)
	}

	a.log = log
	a.natsConnection = natsConnection
	a.client = &rpcClient{natsConnection: natsConnection, prefix: a.prefix, timeout: a.timeout, log: log}

	return nil
}

func (a *app) close() {
	if a.natsConnection != nil {
		a.natsConnection.Close()
	}

	if a.log != nil {
		_ = a.log.Close()
	}
}

func newLoginCmd(state *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate the service against the provider",
		Long: "Authenticate the service against the provider. Services configured with an\n" +
			"API token ignore the username and password.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv(passwordEnv)
			}

			var result service.AuthenticateResult

			err := state.client.call(cmd.Context(), worker.SubjectAuthenticate,
				service.AuthenticateRequest{Username: username, Password: password}, &result)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "authenticated at %s\n", result.AcquiredAt.Format(time.RFC3339))

			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account username or email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (default $"+passwordEnv+")")

	return cmd
}

func newVoicesCmd(state *app) *cobra.Command {
	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "Search voice models",
	}

	searchCmd := &cobra.Command{
		Use:   "search [term]",
		Short: "List voice models matching a term",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var found []core.VoiceModel

			err := state.client.call(cmd.Context(), worker.SubjectModelsSearch,
				service.SearchRequest{Term: strings.Join(args, " ")}, &found)
			if err != nil {
				return err
			}

			if len(found) == 0 {
				return errNoVoicesFound
			}

			for _, model := range found {
				printModel(cmd.OutOrStdout(), model)
			}

			return nil
		},
	}

	findCmd := &cobra.Command{
		Use:   "find <name>",
		Short: "Resolve a display name to one voice model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := findVoice(cmd.Context(), state, strings.Join(args, " "))
			if err != nil {
				return err
			}

			printModel(cmd.OutOrStdout(), model)

			return nil
		},
	}

	voicesCmd.AddCommand(searchCmd, findCmd)

	return voicesCmd
}

func newSayCmd(state *app) *cobra.Command {
	var (
		modelToken string
		voiceName  string
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Submit text for synthesis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (modelToken == "") == (voiceName == "") {
				return errModelOrVoice
			}

			if voiceName != "" {
				model, err := findVoice(cmd.Context(), state, voiceName)
				if err != nil {
					return err
				}

				modelToken = model.Token
			}

			var submitted service.SubmitResult

			err := state.client.call(cmd.Context(), worker.SubjectSubmit,
				service.SubmitRequest{ModelToken: modelToken, Text: strings.Join(args, " ")}, &submitted)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", submitted.JobToken, submitted.Status)

			if !wait {
				return nil
			}

			return printStatus(cmd, state, service.StatusRequest{JobToken: submitted.JobToken, Wait: true})
		},
	}

	cmd.Flags().StringVarP(&modelToken, "model", "m", "", "voice model token")
	cmd.Flags().StringVarP(&voiceName, "voice", "v", "", "voice display name, resolved with voices find")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")

	return cmd
}

func newStatusCmd(state *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "status <job-token>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd, state, service.StatusRequest{JobToken: args[0], Wait: wait})
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")

	return cmd
}

func newFetchCmd(state *app) *cobra.Command {
	var (
		wait      bool
		outputDir string
		bucket    string
	)

	cmd := &cobra.Command{
		Use:   "fetch <job-token>",
		Short: "Archive a finished job's audio and optionally save it locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result service.FetchResult

			err := state.client.call(cmd.Context(), worker.SubjectFetch,
				service.StatusRequest{JobToken: args[0], Wait: wait}, &result)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "archived %s (%s)\n", result.AudioKey, service.FormatSize(result.Size))

			if outputDir == "" {
				return nil
			}

			path, err := saveAudio(cmd.Context(), state, bucket, result.AudioKey, outputDir)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes first")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory to save the audio into")
	cmd.Flags().StringVar(&bucket, "bucket", defaultAudioBucket, "audio object store bucket")

	return cmd
}

func findVoice(ctx context.Context, state *app, name string) (core.VoiceModel, error) {
	var model core.VoiceModel

	err := state.client.call(ctx, worker.SubjectModelsFind, service.FindRequest{Name: name}, &model)
	if err != nil {
		return core.VoiceModel{}, err
	}

	return model, nil
}

func printStatus(cmd *cobra.Command, state *app, req service.StatusRequest) error {
	var result service.StatusResult

	err := state.client.call(cmd.Context(), worker.SubjectStatus, req, &result)
	if err != nil {
		return err
	}

	if result.AudioURL != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.Status, result.AudioURL)

		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Status)

	return nil
}

func printModel(out io.Writer, model core.VoiceModel) {
	fmt.Fprintf(out, "%s\t%s\n", model.Token, model.Title)
}

func saveAudio(ctx context.Context, state *app, bucket, key, outputDir string) (string, error) {
	jetstreamContext, err := state.natsConnection.JetStream()
	if err != nil {
		return "", fmt.Errorf("failed to create jetstream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		return "", fmt.Errorf("failed to open audio bucket: %w", err)
	}

	audio, err := store.Download(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", key, err)
	}

	path := filepath.Join(outputDir, filepath.Base(key))

	err = os.WriteFile(path, audio, outputFilePerm)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	return path, nil
}
