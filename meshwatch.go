package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"

	"github.com/meshwatch/meshwatch/config"
	"github.com/meshwatch/meshwatch/discover"
	"github.com/meshwatch/meshwatch/radio"
	"github.com/meshwatch/meshwatch/session"
	"github.com/meshwatch/meshwatch/update"
	"github.com/meshwatch/meshwatch/web"
)

const version = "0.1.0"

var (
	portFlag   string
	hostFlag   string
	bleFlag    string
	tuiFlag    bool
	webFlag    int
	configFlag string
	debugFlag  bool
)

func init() {
	// Parse command line flags
	flag.StringVar(&portFlag, "port", "", "Serial port of the radio (e.g. /dev/ttyUSB0)")
	flag.StringVar(&hostFlag, "host", "", "Hostname or IP of a radio reachable over TCP")
	flag.StringVar(&bleFlag, "ble", "", "Name of a radio to reach over Bluetooth LE")
	flag.BoolVar(&tuiFlag, "tui", false, "Open the full-screen interface")
	flag.IntVar(&webFlag, "web", 0, "Serve the web dashboard on this port")
	flag.StringVar(&configFlag, "config", "", "Path to the config file")
	flag.BoolVar(&debugFlag, "debug", false, "Enable debug mode (writes meshwatch.log in current directory)")
	versionFlag := flag.Bool("version", false, "Display version information and exit")

	// Add help text
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "meshwatch %s - Meshtastic Mesh Radio Console\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	flag.Parse()

	// Handle version flag first
	if *versionFlag {
		fmt.Printf("meshwatch %s\n", version)
		os.Exit(0)
	}

	// Show help if any non-flag arguments are provided
	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected argument '%s'\n\n", flag.Arg(0))
		flag.Usage()
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshwatch: %v\n", err)
		return 1
	}
	configureLogging(cfg)

	if tuiFlag && webFlag > 0 {
		fmt.Fprintln(os.Stderr, "meshwatch: -tui and -web are exclusive, pick one")
		return 1
	}

	checker := update.NewChecker(version)
	checker.Start()
	defer checker.Stop()
	defer notifyUpdate(checker)

	switch {
	case tuiFlag:
		return runTUI(cfg)
	case webFlag > 0:
		return runWeb(cfg)
	default:
		return runConsole(cfg)
	}
}

// loadConfig reads the config file and layers the command line flags
// on top of it.
func loadConfig() (config.Config, error) {
	path := configFlag
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("could not load %s: %w", path, err)
	}

	explicit := 0
	for _, value := range []string{portFlag, hostFlag, bleFlag} {
		if value != "" {
			explicit++
		}
	}
	if explicit > 1 {
		return cfg, errors.New("-port, -host and -ble are exclusive, pick one")
	}

	switch {
	case portFlag != "":
		cfg.Transport = "serial"
		cfg.Device = portFlag
	case hostFlag != "":
		cfg.Transport = "tcp"
		cfg.Host = hostFlag
	case bleFlag != "":
		cfg.Transport = "ble"
		cfg.BLEName = bleFlag
	}

	if webFlag > 0 {
		if cfg.Web == nil {
			cfg.Web = &config.WebConfig{}
		}
		cfg.Web.Port = webFlag
	}

	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// configureLogging points logrus at the right sink. A TUI owns the
// terminal, so its logs are dropped unless -debug sends them to a file.
func configureLogging(cfg config.Config) {
	if debugFlag {
		f, err := os.OpenFile("meshwatch.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening meshwatch.log: %v\n", err)
			os.Exit(1)
		}
		log.SetOutput(f)
		log.SetLevel(log.DebugLevel)
		return
	}

	if tuiFlag {
		log.SetOutput(io.Discard)
		return
	}

	log.SetOutput(os.Stderr)
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
}

// configuredTarget returns the radio named by the config when the
// transport is pinned to something other than auto.
func configuredTarget(cfg config.Config) (radio.Target, bool) {
	switch cfg.Transport {
	case "serial":
		return radio.Target{Kind: radio.TargetSerial, Addr: cfg.Device}, true
	case "tcp":
		return radio.Target{Kind: radio.TargetTCP, Addr: cfg.Host}, true
	case "ble":
		return radio.Target{Kind: radio.TargetBLE, Addr: cfg.BLEName}, true
	}
	return radio.Target{}, false
}

func resolveTarget(cfg config.Config) (radio.Target, error) {
	if target, ok := configuredTarget(cfg); ok {
		return target, nil
	}
	return discover.Autodetect()
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func printTargetError(err error) {
	if errors.Is(err, radio.ErrNoDevice) {
		fmt.Fprintln(os.Stderr, "meshwatch: no radio found. Plug one in over USB, or name one with -port, -host or -ble.")
		return
	}
	fmt.Fprintf(os.Stderr, "meshwatch: %v\n", err)
}

// runConsole connects, prints the node table and streams packets to
// stdout until interrupted. Commands are read from stdin.
func runConsole(cfg config.Config) int {
	target, err := resolveTarget(cfg)
	if err != nil {
		printTargetError(err)
		return 1
	}

	client, err := radio.NewClient(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshwatch: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	runner := session.NewRunner(client)
	runner.In = os.Stdin
	// The runner reports its own errors on the console.
	if err := runner.Run(ctx); err != nil {
		return 1
	}
	return 0
}

// runWeb connects and serves the dashboard, pushing every mesh packet
// to the browser over websockets.
func runWeb(cfg config.Config) int {
	target, err := resolveTarget(cfg)
	if err != nil {
		printTargetError(err)
		return 1
	}

	client, err := radio.NewClient(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshwatch: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	defer client.Close()

	fmt.Printf("Connecting to %s radio at %s...\n", target.Kind, target.Addr)
	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "meshwatch: %v\n", err)
		return 1
	}

	port := config.DefaultWebPort
	token := ""
	if cfg.Web != nil {
		token = cfg.Web.Token
		if cfg.Web.Port > 0 {
			port = cfg.Web.Port
		}
	}
	if token == "" {
		token = newAuthToken()
	}

	server, err := web.NewServer(port, token, version, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshwatch: %v\n", err)
		return 1
	}

	serverErrs := make(chan error, 1)
	go func() {
		serverErrs <- server.Start()
	}()

	fmt.Printf("Connected to %s. Dashboard: http://localhost:%d/?auth=%s\n",
		client.MyInfo().DisplayName(), port, token)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nClosing the radio.")
			return 0
		case err := <-serverErrs:
			fmt.Fprintf(os.Stderr, "meshwatch: %v\n", err)
			return 1
		case packet, ok := <-client.Events():
			if !ok {
				fmt.Fprintf(os.Stderr, "meshwatch: %v\n", radio.ErrTransportClosed)
				return 1
			}
			server.HandlePacket(packet)
		}
	}
}

func runTUI(cfg config.Config) int {
	model := initialModel(cfg)
	p := tea.NewProgram(
		model,
		tea.WithAltScreen(), // Use alternate screen buffer
	)

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v", err)
		return 1
	}
	if model.fatalErr != nil {
		fmt.Fprintf(os.Stderr, "meshwatch: %v\n", model.fatalErr)
		return 1
	}
	return 0
}

// newAuthToken mints the token guarding the dashboard when the config
// does not pin one.
func newAuthToken() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		log.WithError(err).Fatal("Could not generate an auth token")
	}
	return hex.EncodeToString(buf)
}

// notifyUpdate prints the upgrade notice once the session has released
// the terminal.
func notifyUpdate(checker *update.Checker) {
	select {
	case result := <-checker.Results():
		fmt.Printf("meshwatch %s is available: %s\n", result.LatestVersion, result.URL)
	default:
	}
}
