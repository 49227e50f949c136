package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"askbox/asking"
	"askbox/audio"
	"askbox/beep"
	"askbox/config"
	"askbox/doctor"
	"askbox/log"
	"askbox/transcriber"
	"askbox/voice"
)

type options struct {
	configPath string
	logPath    string
	device     string
	setup      bool
	offline    bool
	replay     string
}

// deps is everything the prompt's parent needs, built once per command.
type deps struct {
	cfg   config.Config
	src   asking.Source
	tr    transcriber.Transcriber
	audio audio.Context // nil when no capture backend is available
	voice voice.Config
}

func (d *deps) Close() {
	if d.audio != nil {
		d.audio.Close()
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:   "askbox",
		Short: "Ask questions about your data, typed or spoken",
		Long:  "askbox is a terminal prompt for a text-to-SQL asking service. Type a question or press ctrl+r and say it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging(opts.logPath)
			defer log.Close()

			d, err := buildDeps(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer d.Close()
			return runTUI(cmd.Context(), d)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/askbox/config.yaml, or $ASKBOX_CONFIG)")
	flags.StringVar(&opts.logPath, "logpath", "", "log directory (default: OS-specific location, or $ASKBOX_LOG_PATH)")
	flags.StringVar(&opts.device, "device", "", "use named microphone device")
	flags.BoolVar(&opts.setup, "setup", false, "pick the microphone interactively")
	flags.BoolVar(&opts.offline, "offline", false, "use built-in fake asking and transcription services")
	flags.StringVar(&opts.replay, "replay", "", "replay a 16kHz mono WAV file instead of the microphone")

	root.AddCommand(newAskCmd(&opts))
	root.AddCommand(newDoctorCmd(&opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newAskCmd(opts *options) *cobra.Command {
	var (
		pick    int
		copySQL bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question without the terminal UI and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging(opts.logPath)
			defer log.Close()

			d, err := buildDeps(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer d.Close()
			return runAsk(cmd.Context(), cmd.OutOrStdout(), d, strings.Join(args, " "), askOptions{pick: pick, copy: copySQL})
		},
	}
	cmd.Flags().IntVarP(&pick, "select", "s", 0, "select candidate N (1-based) once the answer is ready")
	cmd.Flags().BoolVarP(&copySQL, "copy", "c", false, "copy the selected candidate's SQL to the clipboard")
	return cmd
}

func newDoctorCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the asking service, microphone, transcription and clipboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			defer d.Close()

			doc := &doctor.Doctor{
				Out:         cmd.OutOrStdout(),
				In:          os.Stdin,
				AskingURL:   d.cfg.Asking.BaseURL,
				Audio:       d.audio,
				Transcriber: d.tr,
				Voice:       d.voice,
			}
			if code := doc.Run(cmd.Context()); code != 0 {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(out io.Writer) error {
	_, err := fmt.Fprintf(out, "askbox %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return err
}

func buildDeps(ctx context.Context, opts options) (*deps, error) {
	cfg, err := config.NewFileLoader(opts.configPath).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	d := &deps{cfg: cfg}
	if opts.offline {
		d.src = offlineSource()
		d.tr = transcriber.NewFake("how many orders were placed last month", nil)
	} else {
		client := asking.NewClient(cfg.Asking.BaseURL, cfg.Asking.Timeout)
		client.Configurations = askingConfigurations(cfg.Asking, time.Now())
		d.src = client
		d.tr = transcriber.NewHTTP(cfg.Transcription.Endpoint, cfg.Transcription.Token(), cfg.Transcription.Timeout)
	}

	if opts.replay != "" {
		fake, err := audio.LoadFakeContext(opts.replay, true)
		if err != nil {
			return nil, fmt.Errorf("loading replay file: %w", err)
		}
		d.audio = fake
	} else if actx, err := audio.NewContext(); err == nil {
		d.audio = actx
	} else {
		log.Warnf("audio context init error: %v", err)
	}

	var device *audio.DeviceInfo
	if d.audio != nil {
		name := opts.device
		if name == "" {
			name = cfg.Voice.Device
		}
		switch {
		case name != "":
			device, err = audio.FindDevice(d.audio, name)
			if err != nil {
				log.Warnf("device lookup failed: %v", err)
			} else if device == nil {
				log.Warn("device not found, using default: " + name)
			}
		case opts.setup:
			device, err = audio.SelectDevice(d.audio)
			if err != nil {
				log.Warnf("device selection failed: %v", err)
				fmt.Fprintln(os.Stderr, "Falling back to default device")
			}
		}
	}

	if !cfg.Voice.Beep {
		beep.Disable()
	} else {
		go beep.Init()
	}

	d.voice = voice.Config{
		Device:           device,
		Format:           cfg.Transcription.Format,
		SilenceThreshold: cfg.Voice.SilenceThreshold,
		SilenceHold:      cfg.Voice.SilenceHold,
		MaxWait:          cfg.Voice.MaxWait,
		Placeholder:      cfg.Voice.Placeholder,
		AutoSubmit:       cfg.Voice.AutoSubmit,
		Beep:             cfg.Voice.Beep,
		Gain:             cfg.Voice.Gain,
	}

	log.SessionStart(cfg.Asking.BaseURL, d.tr.Name(), opts.offline)
	return d, nil
}

// offlineSource answers every question with canned candidates, for demos
// and for trying the prompt without a backend.
func offlineSource() *asking.FakeSource {
	src := asking.NewFake(asking.TypeTextToSQL, []asking.Candidate{
		{Type: "llm", SQL: "SELECT date_trunc('month', created_at) AS month, count(*) FROM orders GROUP BY 1 ORDER BY 1"},
		{Type: "view", SQL: "SELECT * FROM monthly_orders", ViewID: 1, ViewName: "monthly_orders"},
	})
	src.Answer = "Orders are recorded in the orders table, one row per checkout."
	src.Recommended = []asking.RecommendedQuestion{
		{Question: "What is the average order value per month?", Category: "trend"},
		{Question: "Which customers placed the most orders?", Category: "ranking"},
	}
	return src
}

// pollInterval keeps a zero config value from spinning.
func pollInterval(cfg config.Config) time.Duration {
	if cfg.Asking.PollInterval <= 0 {
		return 500 * time.Millisecond
	}
	return cfg.Asking.PollInterval
}

// askingConfigurations describes the answer language and the user's zone.
// An unset zone is reported by its abbreviation, with the offset at now.
func askingConfigurations(a config.Asking, now time.Time) asking.Configurations {
	loc, err := a.Location()
	if err != nil {
		loc = time.Local
	}
	local := now.In(loc)
	name := a.Timezone
	if name == "" {
		name, _ = local.Zone()
	}
	return asking.Configurations{
		Language: a.Language,
		Timezone: &asking.Timezone{Name: name, UTCOffset: local.Format("-07:00")},
	}
}
