package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/NotsoanoNimus/nanofuzz"
	"github.com/NotsoanoNimus/nanofuzz/internal/profile"
)

const (
	exitSuccess = 0
	exitUsage   = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		useStdin    bool
		pattern     string
		file        string
		limit       int64
		noCRLF      bool
		watch       bool
		profilePath string
		dumpFactory string
		poolFlag    string
		seed        int64
		haveSeed    bool
		debug       bool
	)

	rootCmd := &cobra.Command{
		Use:           "nanofuzz",
		Short:         "Generate synthetic byte strings from a pattern schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}

			var prof *profile.Profile
			if profilePath != "" {
				p, err := profile.Load(profilePath)
				if err != nil {
					return fmt.Errorf("loading profile: %w", err)
				}
				prof = p
			}

			cfg, err := resolveConfig(cmd, prof, useStdin, pattern, file, limit, noCRLF, poolFlag, seed, haveSeed)
			if err != nil {
				return err
			}

			schema, err := readSchema(cfg)
			if err != nil {
				return err
			}

			ctx, tr := nanofuzz.Compile(schema, cfg.seed, cfg.poolSize)
			if !tr.IsEmpty() {
				tr.Print(os.Stderr)
				return fmt.Errorf("schema failed to compile")
			}
			defer ctx.Close()

			if dumpFactory != "" {
				return writeFactoryDump(dumpFactory, ctx)
			}

			if watch && cfg.fromFile != "" {
				return runWatched(cmd.OutOrStdout(), cfg)
			}

			return generateLoop(cmd.OutOrStdout(), ctx, cfg.limit, cfg.noCRLF)
		},
	}

	rootCmd.Flags().BoolVarP(&useStdin, "stdin", "i", false, "read the pattern schema from stdin")
	rootCmd.Flags().StringVarP(&pattern, "pattern", "p", "", "the pattern schema, given inline")
	rootCmd.Flags().StringVarP(&file, "file", "f", "", "path to a file containing the pattern schema")
	rootCmd.Flags().Int64VarP(&limit, "limit", "l", -1, "number of artifacts to generate (-1 for unbounded)")
	rootCmd.Flags().BoolVarP(&noCRLF, "nocrlf", "n", false, "write raw bytes with no trailing newline")
	rootCmd.Flags().BoolVar(&watch, "watch", false, "recompile -f on change")
	rootCmd.Flags().StringVar(&profilePath, "profile", "", "load flag defaults from a validated JSON profile")
	rootCmd.Flags().StringVar(&dumpFactory, "dump-factory", "", "write a CBOR dump of the compiled factory and exit")
	rootCmd.Flags().StringVar(&poolFlag, "pool", "", "tiny|small|normal|large|extreme, or a byte count")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "fixed PRNG seed for reproducible runs")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging to stderr")

	rootCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		haveSeed = cmd.Flags().Changed("seed")
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nanofuzz: %v\n", err)
		return exitUsage
	}
	return exitSuccess
}

// config is the fully resolved set of values driving one run, after
// reconciling an optional profile with explicit flags (flags win).
type config struct {
	fromStdin bool
	fromFile  string
	inline    string
	limit     int64
	noCRLF    bool
	poolSize  int
	seed      uint64
}

func resolveConfig(cmd *cobra.Command, prof *profile.Profile, useStdin bool, pattern, file string, limit int64, noCRLF bool, poolFlag string, seed int64, haveSeed bool) (*config, error) {
	cfg := &config{
		limit:    limit,
		noCRLF:   noCRLF,
		poolSize: nanofuzz.Normal,
		seed:     uint64(time.Now().UnixNano()),
	}

	if prof != nil {
		cfg.inline = prof.Pattern
		if !cmd.Flags().Changed("nocrlf") {
			cfg.noCRLF = prof.NoCRLF
		}
		if !cmd.Flags().Changed("limit") {
			cfg.limit = prof.Limit
		}
		if prof.PoolSize != "" {
			if n, ok := nanofuzz.PoolSizeNamed(prof.PoolSize); ok {
				cfg.poolSize = n
			} else if n, err := strconv.Atoi(prof.PoolSize); err == nil {
				cfg.poolSize = n
			}
		}
		if prof.Seed != nil {
			cfg.seed = uint64(*prof.Seed)
		}
	}

	sourceCount := 0
	if useStdin {
		sourceCount++
		cfg.fromStdin = true
	}
	if pattern != "" {
		sourceCount++
		cfg.inline = pattern
		cfg.fromStdin = false
	}
	if file != "" {
		sourceCount++
		cfg.fromFile = file
		cfg.fromStdin = false
	}
	if sourceCount > 1 {
		return nil, fmt.Errorf("specify exactly one of --stdin, --pattern, --file")
	}
	if sourceCount == 0 && cfg.inline == "" {
		return nil, fmt.Errorf("no pattern schema given: use --stdin, --pattern, --file, or --profile")
	}

	if poolFlag != "" {
		if n, ok := nanofuzz.PoolSizeNamed(poolFlag); ok {
			cfg.poolSize = n
		} else if n, err := strconv.Atoi(poolFlag); err == nil {
			cfg.poolSize = n
		} else {
			return nil, fmt.Errorf("invalid --pool value %q", poolFlag)
		}
	}

	if haveSeed {
		cfg.seed = uint64(seed)
	}

	return cfg, nil
}

func readSchema(cfg *config) ([]byte, error) {
	switch {
	case cfg.fromStdin:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	case cfg.fromFile != "":
		data, err := os.ReadFile(cfg.fromFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", cfg.fromFile, err)
		}
		return data, nil
	default:
		return []byte(cfg.inline), nil
	}
}

func generateLoop(w io.Writer, ctx *nanofuzz.Context, limit int64, noCRLF bool) error {
	out := bufio.NewWriter(w)
	defer out.Flush()

	for i := int64(0); limit < 0 || i < limit; i++ {
		artifact, err := ctx.Next()
		if err != nil {
			return fmt.Errorf("generating artifact %d: %w", i, err)
		}
		if _, err := out.Write(artifact); err != nil {
			return err
		}
		if !noCRLF {
			if err := out.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return nil
}

// runWatched recompiles cfg.fromFile's contents whenever fsnotify reports a
// write, swapping the active Context atomically so the generation loop
// always reads the latest successfully-compiled schema. A failed recompile
// is logged and the previous Context keeps serving.
func runWatched(w io.Writer, cfg *config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(cfg.fromFile); err != nil {
		return fmt.Errorf("watching %s: %w", cfg.fromFile, err)
	}

	var current atomic.Pointer[nanofuzz.Context]
	reload := func() error {
		data, err := os.ReadFile(cfg.fromFile)
		if err != nil {
			return err
		}
		ctx, tr := nanofuzz.Compile(data, cfg.seed, cfg.poolSize)
		if !tr.IsEmpty() {
			tr.Print(os.Stderr)
			return fmt.Errorf("recompile failed")
		}
		current.Store(ctx)
		return nil
	}
	if err := reload(); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := reload(); err != nil {
						slog.Error("recompile after file change failed", "error", err)
					} else {
						slog.Debug("recompiled after file change", "file", cfg.fromFile)
					}
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("file watcher error", "error", werr)
			}
		}
	}()

	out := bufio.NewWriter(w)
	defer out.Flush()
	for i := int64(0); cfg.limit < 0 || i < cfg.limit; i++ {
		ctx := current.Load()
		artifact, err := ctx.Next()
		if err != nil {
			return fmt.Errorf("generating artifact %d: %w", i, err)
		}
		if _, err := out.Write(artifact); err != nil {
			return err
		}
		if !cfg.noCRLF {
			if err := out.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return nil
}

// factoryDump is the CBOR-serializable shape written by --dump-factory: the
// flat instruction count, the worst-case output-size estimate, and the
// subcontext labels, not the raw ast.Block stream
// (whose Kind-dependent union fields are an implementation detail we don't
// want to freeze into an external dump format).
type factoryDump struct {
	InstructionCount int      `cbor:"instruction_count"`
	MaxOutputSize    uint64   `cbor:"max_output_size"`
	Subcontexts      []string `cbor:"subcontexts"`
}

func writeFactoryDump(path string, ctx *nanofuzz.Context) error {
	dump := factoryDump{
		InstructionCount: len(ctx.Factory.Instructions),
		MaxOutputSize:    ctx.Factory.MaxOutputSize,
	}
	for label := range ctx.Factory.Subcontexts {
		dump.Subcontexts = append(dump.Subcontexts, label)
	}

	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return fmt.Errorf("building CBOR encoder: %w", err)
	}
	data, err := encMode.Marshal(dump)
	if err != nil {
		return fmt.Errorf("encoding factory dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	slog.Debug("wrote factory dump", "path", path, "bytes", len(data), "digest", hex.EncodeToString(data[:min(8, len(data))]))
	return nil
}
