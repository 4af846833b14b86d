package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/gdbstub/pkg/config"
	"github.com/go-delve/gdbstub/pkg/gdbstub"
	"github.com/go-delve/gdbstub/pkg/gdbstub/client"
	"github.com/go-delve/gdbstub/pkg/inferior/sim"
	"github.com/go-delve/gdbstub/pkg/logflags"
	"github.com/go-delve/gdbstub/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath overrides the default configuration file.
	configPath string

	// addr is the stub listen address.
	addr string
	// acceptMulti allows the stub to serve a new debugger after the
	// previous one disconnected.
	acceptMulti bool
	// inferiorPath is the YAML description of the simulated inferior.
	inferiorPath string
	// threads and arch override the inferior description.
	threads int
	arch    string

	maxPacketSize   int
	stackChunkSize  int
	frameWalkDepth  int
	memoryCacheSize int

	// probe flags
	probeTimeout     time.Duration
	probeThreadsList bool
	probeCommands    []string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const gdbstubCommandLongDesc = `gdbstub is a debug stub speaking the GDB remote serial protocol.

It serves a simulated multi-threaded inferior to debuggers such as lldb,
reporting every thread and its program counter in stop replies and
answering jThreadsInfo with registers and stack memory of each thread.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	rootCommand = &cobra.Command{
		Use:   "gdbstub",
		Short: "gdbstub is a GDB remote serial protocol debug stub.",
		Long:  gdbstubCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if docCall {
				return nil
			}
			return loadConfig()
		},
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable stub logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'gdbstub help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'gdbstub help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file, defaults to ~/.gdbstub/config.yml.")

	// 'serve' subcommand.
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Serve a simulated inferior to a debugger.",
		Long: `Starts the stub and waits for a debugger to connect.

The inferior is a simulated process whose threads loop over a small code
region. Its shape (architecture, number of threads, stacks, breakpoints set
at startup) is read from the YAML file given with --inferior, for example:

	arch: ppc64
	threads: 8
	breakpoints: [0x400048]

Connect with lldb using 'gdb-remote <address>'.`,
		Args: cobra.NoArgs,
		RunE: serveCmd,
	}
	serveCommand.Flags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Stub listen address.")
	serveCommand.Flags().BoolVarP(&acceptMulti, "accept-multiclient", "", false, "Keep serving after the debugger disconnects.")
	serveCommand.Flags().StringVar(&inferiorPath, "inferior", "", "YAML description of the simulated inferior.")
	serveCommand.Flags().IntVar(&threads, "threads", 0, "Number of threads of the inferior, overrides the description.")
	serveCommand.Flags().StringVar(&arch, "arch", "", "Architecture of the inferior (amd64, arm64, ppc64), overrides the description.")
	serveCommand.Flags().IntVar(&maxPacketSize, "max-packet-size", gdbstub.DefaultMaxPacketSize, "Packet size advertised to the debugger.")
	serveCommand.Flags().IntVar(&stackChunkSize, "stack-chunk-size", gdbstub.DefaultStackChunkSize, "Bytes of stack sent with each thread in jThreadsInfo.")
	serveCommand.Flags().IntVar(&frameWalkDepth, "frame-walk-depth", gdbstub.DefaultFrameWalkDepth, "Frame records sent with each thread in jThreadsInfo.")
	serveCommand.Flags().IntVar(&memoryCacheSize, "memory-cache-size", gdbstub.DefaultMemoryCacheSize, "Memory reads remembered during a stop, 0 disables the cache.")
	rootCommand.AddCommand(serveCommand)

	// 'probe' subcommand.
	probeCommand := &cobra.Command{
		Use:   "probe address [script]",
		Short: "Send packets to a running stub.",
		Long: `Connects to a stub and runs probe commands, one per line, read from
the script file, the -c flags or standard input.

Commands on the same line are separated by '|'. Available commands:

	send <payload>		send a packet and print the reply
	stop			print the stop reply of the current stop (?)
	continue		resume the inferior and print the stop reply
	step <tid>		step one thread
	interrupt <duration>	resume, wait then interrupt the inferior
	threads			list the threads (qfThreadInfo)
	threadsinfo		print the jThreadsInfo reply
	read <addr> <len>	read memory with the x packet
	break <addr>		set a breakpoint
	clear <addr>		clear a breakpoint
	kill			kill the inferior
	detach			detach from the inferior

Aliases defined in the configuration file are expanded.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: probeCmd,
	}
	probeCommand.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "Connection timeout.")
	probeCommand.Flags().BoolVar(&probeThreadsList, "threads-in-stop-reply", true, "Negotiate QListThreadsInStopReply.")
	probeCommand.Flags().StringArrayVarP(&probeCommands, "command", "c", nil, "Probe command to run, can be repeated.")
	rootCommand.AddCommand(probeCommand)

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gdbstub\n%s\n", version.StubVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	stub		Log sessions and packet handling
	gdbwire		Log every packet sent and received
	inferior	Log the simulated inferior
	config		Log configuration loading

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "listening at" message of serve.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// loadConfig reads the configuration file and uses it for the flags that
// were not given on the command line.
func loadConfig() error {
	if configPath != "" {
		var err error
		if conf, err = config.LoadConfigFrom(configPath); err != nil {
			return err
		}
	} else {
		conf = config.LoadConfig()
	}
	flags := rootCommand.PersistentFlags()
	if !flags.Changed("log-output") && conf.LogOutput != "" {
		logOutput = conf.LogOutput
	}
	return nil
}

// applyServeConfig fills the serve flags that were not given on the command
// line from the configuration file.
func applyServeConfig(flags *pflag.FlagSet) {
	if !flags.Changed("listen") && conf.Listen != "" {
		addr = conf.Listen
	}
	if !flags.Changed("accept-multiclient") {
		acceptMulti = conf.AcceptMulti
	}
	if !flags.Changed("inferior") {
		inferiorPath = conf.Inferior
	}
	for _, opt := range []struct {
		name string
		dst  *int
		val  *int
	}{
		{"max-packet-size", &maxPacketSize, conf.MaxPacketSize},
		{"stack-chunk-size", &stackChunkSize, conf.StackChunkSize},
		{"frame-walk-depth", &frameWalkDepth, conf.FrameWalkDepth},
		{"memory-cache-size", &memoryCacheSize, conf.MemoryCacheSize},
	} {
		if !flags.Changed(opt.name) {
			*opt.dst = config.IntOr(opt.val, *opt.dst)
		}
	}
}

// inferiorDescription returns the description of the inferior to serve.
func inferiorDescription() (sim.Description, error) {
	desc := sim.DefaultDescription()
	if inferiorPath != "" {
		var err error
		if desc, err = sim.LoadDescription(inferiorPath); err != nil {
			return desc, err
		}
	}
	if threads > 0 {
		desc.Threads = threads
	}
	if arch != "" {
		desc.Arch = arch
	}
	return desc, desc.Validate()
}

func serveCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()
	applyServeConfig(cmd.Flags())

	desc, err := inferiorDescription()
	if err != nil {
		return err
	}
	process, err := sim.New(desc)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("couldn't start listener: %w", err)
	}
	disconnectChan := make(chan struct{})
	server := gdbstub.NewServer(&gdbstub.Config{
		Listener:        listener,
		Target:          process,
		MaxPacketSize:   maxPacketSize,
		StackChunkSize:  stackChunkSize,
		FrameWalkDepth:  frameWalkDepth,
		MemoryCacheSize: memoryCacheSize,
		AcceptMulti:     acceptMulti,
		DisconnectChan:  disconnectChan,
	})
	defer server.Stop()

	out := cmd.OutOrStdout()
	if logDest != "" {
		out = cmd.ErrOrStderr()
	}
	fmt.Fprintf(out, "gdbstub listening at: %s (%s, %d threads)\n", server.Addr(), process.Arch().Name, desc.Threads)
	server.Run()
	waitForDisconnectSignal(disconnectChan)
	return nil
}

func probeCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	if args[0] == "" {
		return errors.New("an empty address was provided, you must provide an address as the first argument")
	}
	conn, err := client.Dial(args[0], probeTimeout)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", args[0], err)
	}
	defer conn.Close()
	if err := conn.Handshake(); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	if probeThreadsList {
		if err := conn.EnableThreadsInStopReply(); err != nil {
			return err
		}
	}

	p := newProber(conn, cmd.OutOrStdout(), conf)
	switch {
	case len(args) > 1:
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		return p.runScript(f)
	case len(probeCommands) > 0:
		for _, line := range probeCommands {
			if err := p.run(line); err != nil {
				return err
			}
		}
		return nil
	default:
		return p.runScript(cmd.InOrStdin())
	}
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the debugger disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}
