// cube extracts and packs GameCube file formats: disc images, RARC
// archives (.arc, Yaz0 compressed .szs), BTI textures and BMG message
// archives.
//
// Defaults for every option can be kept in a YAML file named by --config or
// the CUBE_CONFIG environment variable. Flags given on the command line win
// over the file.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/pflag"

	"github.com/falk/cube-go/pkg/config"
	"github.com/falk/cube-go/pkg/cube"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errUsage
	}
	switch args[0] {
	case "extract":
		return runExtract(args[1:])
	case "pack":
		return runPack(args[1:])
	case "version", "--version":
		fmt.Printf("cube %s\n", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	}
	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cube - GameCube file format tool

Usage:
  cube extract [flags] <file>...
  cube pack [flags] <file or directory>
  cube version

Run "cube <command> --help" for the flags of a command.
`)
}

// commonFlags are accepted by every command.
type commonFlags struct {
	verbose    int
	configPath string
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.CountVarP(&c.verbose, "verbose", "v", "log more detail (repeat for more)")
	fs.StringVar(&c.configPath, "config", "", "YAML defaults file (default $"+config.EnvVar+")")
}

func (c *commonFlags) load() (*config.Config, error) {
	if c.configPath != "" {
		return config.LoadFile(c.configPath)
	}
	return config.Load()
}

// logger builds the stderr logger. Each -v lowers the configured level by one
// step; CUBE_DEBUG forces debug output.
func (c *commonFlags) logger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	level -= slog.Level(4 * c.verbose)
	if os.Getenv("CUBE_DEBUG") != "" && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

// parse handles --help and returns the loaded config and logger.
func parse(fs *pflag.FlagSet, common *commonFlags, args []string) (*config.Config, *slog.Logger, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil, errUsage
		}
		return nil, nil, err
	}
	cfg, err := common.load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := common.logger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runExtract(args []string) error {
	var (
		common     commonFlags
		out        string
		bti        bool
		bmg        bool
		preserve   bool
		scale      int
		workers    int
		noProgress bool
	)
	fs := pflag.NewFlagSet("cube extract", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cube extract [flags] <file>...\n\nExtract files based on their type. Containers are extracted recursively.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	common.add(fs)
	fs.StringVarP(&out, "out", "o", "", "output file for a single result, or the folder for several")
	fs.BoolVar(&bti, "extract-bti", false, "convert BTI textures to PNG")
	fs.BoolVar(&bmg, "extract-bmg", true, "convert BMG message archives to JSON")
	fs.BoolVar(&preserve, "szs-preserve-extension", false, "keep the archive extension on extracted folders")
	fs.IntVar(&scale, "bti-scale", 1, "upscale exported textures by this factor")
	fs.IntVar(&workers, "workers", 0, "disc files extracted at once (0 = one per CPU)")
	fs.BoolVar(&noProgress, "no-progress", false, "hide the disc progress bar")

	cfg, logger, err := parse(fs, &common, args)
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	opts := cube.ExtractOptions{
		BTI:                  cfg.Extract.BTI,
		BMG:                  cfg.Extract.BMG,
		SZSPreserveExtension: cfg.Extract.SZSPreserveExtension,
		BTIScale:             cfg.Extract.BTIScale,
		Workers:              cfg.Extract.Workers,
		Logger:               logger,
	}
	if fs.Changed("extract-bti") {
		opts.BTI = bti
	}
	if fs.Changed("extract-bmg") {
		opts.BMG = bmg
	}
	if fs.Changed("szs-preserve-extension") {
		opts.SZSPreserveExtension = preserve
	}
	if fs.Changed("bti-scale") {
		if scale < 1 {
			return fmt.Errorf("--bti-scale must be at least 1, got %d", scale)
		}
		opts.BTIScale = scale
	}
	if fs.Changed("workers") {
		opts.Workers = workers
	}
	if !noProgress {
		opts.Progress = &progressBar{}
	}

	return cube.ExtractToDisk(fs.Args(), out, opts)
}

func runPack(args []string) error {
	var (
		common     commonFlags
		out        string
		deleteOrig bool
		compress   bool
		quality    int
		arcExt     string
		wrapZstd   bool
		zstdLevel  int
	)
	fs := pflag.NewFlagSet("cube pack", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cube pack [flags] <file or directory>\n\nPack a file or directory into a GameCube format. JSON files become BMG\nmessage archives; a directory becomes an RARC archive.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	common.add(fs)
	fs.StringVarP(&out, "out", "o", "", "output path; its extension selects the format")
	fs.BoolVarP(&deleteOrig, "delete-originals", "d", false, "delete sources after packing")
	fs.BoolVar(&compress, "arc-yaz0-compress", true, "Yaz0 compress archives packed as szs")
	fs.IntVar(&quality, "yaz0-quality", 10, "Yaz0 search effort (0-10)")
	fs.StringVar(&arcExt, "arc-extension", "", "extension for packed archives (default szs, or arc without compression)")
	fs.BoolVar(&wrapZstd, "zstd", false, "wrap the packed file in a Zstandard frame")
	fs.IntVar(&zstdLevel, "zstd-level", 3, "Zstandard level (1-22)")

	cfg, logger, err := parse(fs, &common, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	opts := cube.PackOptions{
		DeleteOriginals: cfg.Pack.DeleteOriginals,
		Yaz0Compress:    cfg.Pack.Yaz0Compress,
		Yaz0Quality:     cfg.Pack.Yaz0Quality,
		ArcExtension:    cfg.Pack.ArcExtension,
		Zstd:            cfg.Pack.Zstd,
		ZstdLevel:       cfg.Pack.ZstdLevel,
		Logger:          logger,
	}
	if fs.Changed("delete-originals") {
		opts.DeleteOriginals = deleteOrig
	}
	if fs.Changed("arc-yaz0-compress") {
		opts.Yaz0Compress = compress
	}
	if fs.Changed("yaz0-quality") {
		if quality < 0 || quality > 10 {
			return fmt.Errorf("--yaz0-quality must be between 0 and 10, got %d", quality)
		}
		opts.Yaz0Quality = quality
	}
	if fs.Changed("arc-extension") {
		opts.ArcExtension = arcExt
	}
	if fs.Changed("zstd") {
		opts.Zstd = wrapZstd
	}
	if fs.Changed("zstd-level") {
		if zstdLevel < 1 || zstdLevel > 22 {
			return fmt.Errorf("--zstd-level must be between 1 and 22, got %d", zstdLevel)
		}
		opts.ZstdLevel = zstdLevel
	}

	return cube.Pack(fs.Arg(0), out, opts)
}

// progressBar shows disc extraction progress on stderr.
type progressBar struct {
	bar *pb.ProgressBar
}

func (p *progressBar) Start(total int) { p.bar = pb.StartNew(total) }
func (p *progressBar) Increment()      { p.bar.Increment() }
func (p *progressBar) Finish()         { p.bar.Finish() }
