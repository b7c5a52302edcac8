package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/netmangle/netmangle"
	"github.com/netmangle/netmangle/app"
	"github.com/netmangle/netmangle/bridge"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "netmangle"
	cliApp.Version = netmangle.Version
	cliApp.Usage = "Emulate bandwidth, delay and loss on a bridged ethernet link"
	cliApp.Flags = flags()
	cliApp.Action = run

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "srctap",
			Value: "tapsrc",
			Usage: "TAP interface name on the source side",
		},
		&cli.StringFlag{
			Name:  "srceth",
			Usage: "physical interface bridged on the source side",
		},
		&cli.StringFlag{
			Name:  "srcbr",
			Value: "brsrc",
			Usage: "bridge name on the source side",
		},
		&cli.StringFlag{
			Name:  "dsttap",
			Value: "tapdst",
			Usage: "TAP interface name on the destination side",
		},
		&cli.StringFlag{
			Name:  "dsteth",
			Usage: "physical interface bridged on the destination side",
		},
		&cli.StringFlag{
			Name:  "dstbr",
			Value: "brdst",
			Usage: "bridge name on the destination side",
		},
		&cli.Int64Flag{
			Name:    "delay-ms",
			Aliases: []string{"delay_ms"},
			Usage:   "initial one-way delay per direction in milliseconds",
		},
		&cli.Int64Flag{
			Name:    "total-time",
			Aliases: []string{"total_time"},
			Usage:   "scenario runtime in milliseconds (defaults to the end of the last event)",
		},
		&cli.StringFlag{
			Name:  "script",
			Usage: "scenario script file to replay",
		},
		&cli.BoolFlag{
			Name:  "demo",
			Usage: "run the built-in demo scenario",
		},
		&cli.StringFlag{
			Name:  "api-listen",
			Usage: "address for the HTTP control API (disabled when empty)",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "JSON file with initial link parameters",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Value: time.Now().UTC().UnixNano(),
			Usage: "seed for the loss draw",
		},
		&cli.IntFlag{
			Name:  "queue-cap",
			Usage: "per-direction delay queue capacity in frames",
		},
		&cli.BoolFlag{
			Name:  "pipeline-metrics",
			Usage: "export pipeline prometheus metrics on the control API",
		},
		&cli.BoolFlag{
			Name:  "runtime-metrics",
			Usage: "export Go runtime prometheus metrics on the control API",
		},
	}
}

func run(c *cli.Context) error {
	a := app.NewApp(c.Bool("pipeline-metrics"), c.Bool("runtime-metrics"))
	logger := a.Logger

	src := bridge.Side{
		TapName:    c.String("srctap"),
		EthName:    c.String("srceth"),
		BridgeName: c.String("srcbr"),
	}
	dst := bridge.Side{
		TapName:    c.String("dsttap"),
		EthName:    c.String("dsteth"),
		BridgeName: c.String("dstbr"),
	}
	setup, fds, err := bridge.New(src, dst, logger)
	if err != nil {
		return fmt.Errorf("bridge setup: %w", err)
	}
	defer setup.Teardown()

	seed := c.Int64("seed")
	queueCap := c.Int("queue-cap")
	emulator, err := netmangle.NewEmulator(
		netmangle.EndpointConfig{TapName: src.TapName, Fd: fds[0], QueueCap: queueCap, Seed: seed},
		netmangle.EndpointConfig{TapName: dst.TapName, Fd: fds[1], QueueCap: queueCap, Seed: seed},
		netmangle.NewClock(),
		logger,
		a.Metrics.Pipeline,
	)
	if err != nil {
		return fmt.Errorf("emulator setup: %w", err)
	}

	if config := c.String("config"); config != "" {
		emulator.PopulateConfig(config)
	}
	if delay := c.Int64("delay-ms"); delay > 0 {
		emulator.SetDelayMillisBoth(delay)
	}

	emulator.Start()
	defer emulator.Stop()

	var api *netmangle.ApiServer
	if addr := c.String("api-listen"); addr != "" {
		api = netmangle.NewApiServer(emulator, a.Metrics, logger)
		go func() {
			if err := api.Listen(addr); err != nil {
				logger.Err(err).Msg("control API failed")
			}
		}()
		defer api.Shutdown()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	events, totalMillis, scripted, err := loadScenario(c, logger)
	if err != nil {
		return err
	}

	if scripted {
		driver := netmangle.NewScenarioDriver(
			emulator.Params(), totalMillis, emulator.Clock(), logger)
		driver.AddEvents(events)
		driver.Start()

		select {
		case <-driver.Done():
		case sig := <-signals:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			driver.Stop()
		}
		return nil
	}

	// Interactive mode: the console runs until quit or EOF, a signal
	// interrupts it.
	done := make(chan struct{})
	go func() {
		netmangle.NewRepl(emulator).Run()
		close(done)
	}()

	select {
	case <-done:
	case sig := <-signals:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}
	return nil
}

// loadScenario resolves the --demo, --script and --total-time flags
// into an event list and total runtime. A positive total time without a
// script still selects scripted mode: an empty timeline that ends in
// link-down finalization.
func loadScenario(c *cli.Context, logger zerolog.Logger) ([]*netmangle.NetworkEvent, int64, bool, error) {
	switch {
	case c.Bool("demo"):
		return netmangle.DemoScenario(), netmangle.DemoScenarioDurationMillis, true, nil
	case c.String("script") != "":
		events, err := netmangle.ParseScenarioFile(c.String("script"), logger)
		if err != nil {
			return nil, 0, false, err
		}
		total := c.Int64("total-time")
		if total <= 0 {
			total = netmangle.ScenarioDurationMillis(events)
		}
		return events, total, true, nil
	case c.Int64("total-time") > 0:
		return nil, c.Int64("total-time"), true, nil
	default:
		return nil, 0, false, nil
	}
}
