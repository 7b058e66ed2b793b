package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nem-lang/nembind/internal/binder"
	"github.com/nem-lang/nembind/internal/cli"
	"github.com/nem-lang/nembind/internal/remote"
	"github.com/nem-lang/nembind/internal/streamio"
	"github.com/nem-lang/nembind/internal/tcb"
	"github.com/nem-lang/nembind/internal/watch"
)

const tool = "nembind"

var commands = []cli.CommandInfo{
	{
		Name:        "bind",
		Usage:       "nembind bind [OPTIONS] <program.json>...",
		Description: "Bind task-graph programs into TCB streams",
		Examples: []string{
			"nembind bind --device examples/devices/nem-small.json examples/programs/tile_pipeline.json",
			"nembind bind --remote https://build:4433 --device dev.json prog.json",
		},
		Flags: []cli.FlagInfo{
			{Name: "device", Short: "d", Usage: "device table (or NEMBIND_DEVICE)", Required: true},
			{Name: "out", Short: "o", Usage: "output file when binding a single program"},
			{Name: "out-dir", Usage: "directory for <program>.tcb outputs", Default: "."},
			{Name: "tag-width", Usage: "override the device synchronization pool width"},
			{Name: "jobs", Short: "j", Usage: "programs bound in parallel", Default: "NumCPU"},
			{Name: "listing", Usage: "print a block listing"},
			{Name: "stats", Usage: "print bind statistics as JSON"},
			{Name: "trace", Usage: "log stage timings"},
			{Name: "remote", Usage: "bind on a remote nembind serve instance over HTTP/3"},
			{Name: "ca", Usage: "PEM bundle that signs the remote server certificate", Default: "system roots"},
			{Name: "insecure", Usage: "skip remote certificate verification (self-signed servers)"},
		},
	},
	{
		Name:        "decode",
		Usage:       "nembind decode <stream.tcb>",
		Description: "Decode and list a TCB stream",
	},
	{
		Name:        "watch",
		Usage:       "nembind watch [OPTIONS] <program.json>",
		Description: "Rebind whenever the program or device table changes",
		Flags: []cli.FlagInfo{
			{Name: "device", Short: "d", Usage: "device table (or NEMBIND_DEVICE)", Required: true},
			{Name: "out", Short: "o", Usage: "output file", Default: "<program>.tcb"},
			{Name: "quiet", Usage: "coalescing window for change bursts", Default: "200ms"},
		},
	},
	{
		Name:        "serve",
		Usage:       "nembind serve [OPTIONS]",
		Description: "Serve bind requests over HTTP/3",
		Flags: []cli.FlagInfo{
			{Name: "addr", Usage: "UDP listen address (or NEMBIND_ADDR)", Default: "localhost:4433"},
			{Name: "cert", Usage: "TLS certificate; a self-signed one is generated when empty"},
			{Name: "key", Usage: "TLS private key"},
		},
	},
	{
		Name:        "version",
		Usage:       "nembind version [--json]",
		Description: "Show version information",
	},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		cli.PrintUsage(stdout, tool, commands)
		return 0
	}

	var err error

	switch args[0] {
	case "bind":
		err = runBind(args[1:], stdout, stderr)
	case "decode":
		err = runDecode(args[1:], stdout, stderr)
	case "watch":
		err = runWatch(args[1:], stdout, stderr)
	case "serve":
		err = runServe(args[1:], stdout, stderr)
	case "version", "-v", "--version":
		fs := flag.NewFlagSet("version", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "output in JSON format")
		if err = fs.Parse(args[1:]); err == nil {
			cli.PrintVersion(stdout, tool, *jsonOut)
		}
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		cli.PrintUsage(stderr, tool, commands)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}

func command(name string) cli.CommandInfo {
	for _, c := range commands {
		if c.Name == name {
			return c
		}
	}

	return cli.CommandInfo{Name: name}
}

// newFlags builds a flag set whose usage is the command's CommandInfo and
// which always accepts --config.
func newFlags(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { cli.PrintCommandUsage(stderr, tool, command(name)) }

	return fs, fs.String("config", "", "JSON configuration file")
}

type bindFlags struct {
	device   string
	out      string
	outDir   string
	tagWidth int
	jobs     int
	listing  bool
	stats    bool
	trace    bool
	remote   string
	ca       string
	insecure bool
}

func runBind(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlags("bind", stderr)

	var f bindFlags
	fs.StringVar(&f.device, "device", "", "device table")
	fs.StringVar(&f.device, "d", "", "device table")
	fs.StringVar(&f.out, "out", "", "output file")
	fs.StringVar(&f.out, "o", "", "output file")
	fs.StringVar(&f.outDir, "out-dir", "", "output directory")
	fs.IntVar(&f.tagWidth, "tag-width", 0, "tag pool width override")
	fs.IntVar(&f.jobs, "jobs", 0, "parallel binds")
	fs.IntVar(&f.jobs, "j", 0, "parallel binds")
	fs.BoolVar(&f.listing, "listing", false, "print block listing")
	fs.BoolVar(&f.stats, "stats", false, "print statistics")
	fs.BoolVar(&f.trace, "trace", false, "log stage timings")
	fs.StringVar(&f.remote, "remote", "", "remote server URL")
	fs.StringVar(&f.ca, "ca", "", "CA bundle for the remote server")
	fs.BoolVar(&f.insecure, "insecure", false, "skip remote certificate verification")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	f.merge(cfg)

	programs := fs.Args()
	if err := cli.ValidateArgs(programs, 1, command("bind").Usage); err != nil {
		return err
	}
	if f.device == "" {
		return errors.New("no device table: pass --device or set " + cli.EnvDevice)
	}
	if f.out != "" && len(programs) > 1 {
		return errors.New("--out requires exactly one program")
	}

	logger := cli.NewLogger(stderr, cfg.Verbose || f.trace, cfg.Debug)

	outputs := make([]bytes.Buffer, len(programs))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(f.jobs)

	for i, prog := range programs {
		g.Go(func() error {
			return bindOne(ctx, &f, logger, prog, f.outputPath(prog), &outputs[i])
		})
	}

	err = g.Wait()

	for i := range outputs {
		_, _ = outputs[i].WriteTo(stdout)
	}

	return err
}

func (f *bindFlags) merge(cfg *cli.Config) {
	if f.device == "" {
		f.device = cfg.Device
	}
	if f.outDir == "" {
		f.outDir = cfg.OutDir
	}
	if f.tagWidth == 0 {
		f.tagWidth = cfg.TagWidth
	}
	if f.jobs <= 0 {
		f.jobs = cfg.Jobs
	}
	if cfg.Verbose {
		f.trace = true
	}
}

func (f *bindFlags) outputPath(program string) string {
	if f.out != "" {
		return f.out
	}

	return defaultOutput(f.outDir, program)
}

func defaultOutput(dir, program string) string {
	base := filepath.Base(program)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".tcb")
}

func bindOne(ctx context.Context, f *bindFlags, logger *cli.Logger, program, out string, w io.Writer) error {
	if f.remote != "" {
		return bindRemote(ctx, f, program, out, w)
	}

	opts := []binder.Option{binder.WithLogger(logger.Std()), binder.WithTrace(f.trace)}
	if f.tagWidth > 0 {
		opts = append(opts, binder.WithTagWidth(f.tagWidth))
	}

	res, err := binder.BindFiles(program, f.device, opts...)
	if err != nil {
		fmt.Fprintln(w, binder.Diagnose(err))
		return errors.Wrap(err, program)
	}

	for _, d := range res.Diagnostics.GetDiagnostics() {
		logger.Info("%s: %s", program, d)
	}

	if _, err := streamio.WriteFile(out, res.Stream); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s -> %s (%d blocks, %d bytes)\n", program, out, res.Stats.Blocks, res.Stats.Bytes)

	if f.listing {
		fmt.Fprint(w, res.Stream.Listing())
	}

	if f.stats {
		return writeJSON(w, res.Stats)
	}

	return nil
}

func bindRemote(ctx context.Context, f *bindFlags, program, out string, w io.Writer) error {
	progData, err := os.ReadFile(program)
	if err != nil {
		return err
	}

	devData, err := os.ReadFile(f.device)
	if err != nil {
		return err
	}

	tlsCfg, err := remote.ClientTLS(f.ca, f.insecure)
	if err != nil {
		return errors.Wrap(err, "remote tls")
	}

	hc := remote.HTTP3Client(tlsCfg, 30*time.Second)
	defer remote.ShutdownHTTP3(hc)

	c := &remote.Client{HTTP: hc, BaseURL: strings.TrimSuffix(f.remote, "/")}

	resp, err := c.Bind(ctx, &remote.BindRequest{Program: progData, Device: devData, TagWidth: f.tagWidth})
	if resp != nil {
		for _, d := range resp.Diagnostics {
			fmt.Fprintln(w, d)
		}
	}
	if err != nil {
		return errors.Wrap(err, program)
	}

	if _, err := streamio.WriteFile(out, bytes.NewReader(resp.Stream)); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s -> %s (%d blocks, %d bytes, remote)\n", program, out, resp.Stats.Blocks, resp.Stats.Bytes)

	if f.stats {
		return writeJSON(w, resp.Stats)
	}

	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func runDecode(args []string, stdout, stderr io.Writer) error {
	fs, _ := newFlags("decode", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := cli.ValidateArgs(fs.Args(), 1, command("decode").Usage); err != nil {
		return err
	}

	data, err := streamio.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	blocks, err := tcb.DecodeStream(data)
	if err != nil {
		return err
	}

	offset := 0
	for _, b := range blocks {
		fmt.Fprintf(stdout, "%06x  %s\n", offset, b)
		offset += b.Size()
	}

	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runWatch(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlags("watch", stderr)
	device := fs.String("device", "", "device table")
	out := fs.String("out", "", "output file")
	quiet := fs.Duration("quiet", 200*time.Millisecond, "coalescing window")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	if *device == "" {
		*device = cfg.Device
	}
	if err := cli.ValidateArgs(fs.Args(), 1, command("watch").Usage); err != nil {
		return err
	}
	if *device == "" {
		return errors.New("no device table: pass --device or set " + cli.EnvDevice)
	}

	program := fs.Arg(0)
	if *out == "" {
		*out = defaultOutput(cfg.OutDir, program)
	}

	f := &bindFlags{device: *device, tagWidth: cfg.TagWidth, trace: cfg.Verbose}
	logger := cli.NewLogger(stderr, true, cfg.Debug)

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("watching %s and %s", program, *device)

	return watch.Run(ctx, []string{program, *device}, *quiet, func() error {
		return bindOne(ctx, f, logger, program, *out, stdout)
	}, func(err error) {
		logger.Error("%v", err)
	})
}

func runServe(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlags("serve", stderr)
	addr := fs.String("addr", "", "listen address")
	certFile := fs.String("cert", "", "TLS certificate")
	keyFile := fs.String("key", "", "TLS key")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	if *addr == "" {
		*addr = cfg.Addr
	}

	tlsCfg, err := serverTLS(*addr, *certFile, *keyFile)
	if err != nil {
		return err
	}

	logger := cli.NewLogger(stderr, true, cfg.Debug)

	var opts []binder.Option
	if cfg.TagWidth > 0 {
		opts = append(opts, binder.WithTagWidth(cfg.TagWidth))
	}

	srv := remote.NewHTTP3Server(*addr, tlsCfg, remote.NewHandler(logger.Std(), opts...).Mux())

	bound, err := srv.Start()
	if err != nil {
		return errors.Wrapf(err, "listen %s", *addr)
	}
	defer srv.Stop()

	fmt.Fprintf(stdout, "serving %s on https://%s\n", remote.BindPath, bound)

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	logger.Info("shutting down")

	return nil
}

func serverTLS(addr, certFile, keyFile string) (*tls.Config, error) {
	if certFile != "" || keyFile != "" {
		return remote.LoadTLSConfig(certFile, keyFile)
	}

	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	if host == "" {
		host = "localhost"
	}

	return remote.GenerateSelfSignedTLS([]string{host}, 7*24*time.Hour)
}
