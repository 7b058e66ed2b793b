package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/xyproto/env/v2"
)

// Version information for nembind
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-16"
	CommitSHA = "unknown" // Will be set during build
)

// Environment variables read by LoadConfig.
const (
	EnvDevice   = "NEMBIND_DEVICE"
	EnvTagWidth = "NEMBIND_TAG_WIDTH"
	EnvVerbose  = "NEMBIND_VERBOSE"
	EnvDebug    = "NEMBIND_DEBUG"
	EnvAddr     = "NEMBIND_ADDR"
	EnvJobs     = "NEMBIND_JOBS"
	EnvOutDir   = "NEMBIND_OUT_DIR"
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	CommitSHA string `json:"commit_sha"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

// GetVersionInfo returns structured version information
func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// PrintVersion writes version information to w.
func PrintVersion(w io.Writer, toolName string, jsonOutput bool) {
	info := GetVersionInfo()

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err == nil {
			fmt.Fprintln(w, string(data))
			return
		}

		fmt.Fprintf(os.Stderr, "Error: failed to marshal version info: %v\n", err)
	}

	fmt.Fprintf(w, "%s v%s\n", toolName, info.Version)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", info.CommitSHA)
	}
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s/%s\n", info.Platform, info.Arch)
}

// Logger provides leveled logging for the CLI on top of log.Logger.
type Logger struct {
	Verbose   bool
	DebugMode bool
	out       *log.Logger
}

// NewLogger creates a logger writing to w.
func NewLogger(w io.Writer, verbose, debug bool) *Logger {
	return &Logger{
		Verbose:   verbose,
		DebugMode: debug,
		out:       log.New(w, "", 0),
	}
}

func (l *Logger) printf(level, format string, args ...interface{}) {
	l.out.Printf("[%s] %s: %s", level, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Verbose {
		l.printf("INFO", format, args...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.DebugMode {
		l.printf("DEBUG", format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.printf("WARN", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.printf("ERROR", format, args...)
}

// Std returns a plain log.Logger on the same output for the binder
// pipeline. It discards output unless Verbose is set.
func (l *Logger) Std() *log.Logger {
	if !l.Verbose {
		return log.New(io.Discard, "", 0)
	}

	return log.New(l.out.Writer(), "[TRACE] ", 0)
}

// Config is the shared configuration of nembind subcommands. Values come
// from an optional JSON file and are then overridden by NEMBIND_*
// environment variables; command line flags override both.
type Config struct {
	Verbose  bool   `json:"verbose"`
	Debug    bool   `json:"debug"`
	Device   string `json:"device"`
	TagWidth int    `json:"tag_width"`
	Addr     string `json:"addr"`
	Jobs     int    `json:"jobs"`
	OutDir   string `json:"out_dir"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "localhost:4433",
		Jobs:   runtime.NumCPU(),
		OutDir: ".",
	}
}

// LoadConfig loads configuration from file and applies the environment.
// A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config.ApplyEnv()

	if config.Jobs < 1 {
		config.Jobs = 1
	}

	return config, nil
}

// ApplyEnv overrides fields with any NEMBIND_* variables that are set.
func (c *Config) ApplyEnv() {
	c.Device = env.Str(EnvDevice, c.Device)
	c.Addr = env.Str(EnvAddr, c.Addr)
	c.OutDir = env.Str(EnvOutDir, c.OutDir)
	c.TagWidth = env.Int(EnvTagWidth, c.TagWidth)
	c.Jobs = env.Int(EnvJobs, c.Jobs)

	if env.Has(EnvVerbose) {
		c.Verbose = env.Bool(EnvVerbose)
	}
	if env.Has(EnvDebug) {
		c.Debug = env.Bool(EnvDebug)
	}
}

// SaveConfig saves configuration to file
func (c *Config) SaveConfig(configPath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CommandInfo represents information about a CLI command
type CommandInfo struct {
	Name        string
	Usage       string
	Description string
	Examples    []string
	Flags       []FlagInfo
}

// FlagInfo represents information about a command flag
type FlagInfo struct {
	Name     string
	Short    string
	Usage    string
	Default  string
	Required bool
}

// PrintUsage writes a standardized usage message to w.
func PrintUsage(w io.Writer, tool string, commands []CommandInfo) {
	fmt.Fprintf(w, "%s - NEM task-graph binder\n\n", tool)
	fmt.Fprintf(w, "USAGE:\n")
	fmt.Fprintf(w, "    %s <command> [OPTIONS]\n\n", tool)

	if len(commands) > 0 {
		fmt.Fprintf(w, "COMMANDS:\n")
		for _, cmd := range commands {
			fmt.Fprintf(w, "    %-12s %s\n", cmd.Name, cmd.Description)
		}
		fmt.Fprintf(w, "\n")
	}

	fmt.Fprintf(w, "ENVIRONMENT:\n")
	for _, name := range []string{EnvDevice, EnvTagWidth, EnvVerbose, EnvDebug, EnvAddr, EnvJobs, EnvOutDir} {
		fmt.Fprintf(w, "    %s\n", name)
	}
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Use '%s <command> --help' for more information about a command.\n", tool)
}

// PrintCommandUsage writes usage for a specific command to w.
func PrintCommandUsage(w io.Writer, tool string, cmd CommandInfo) {
	fmt.Fprintf(w, "%s %s - %s\n\n", tool, cmd.Name, cmd.Description)
	fmt.Fprintf(w, "USAGE:\n")
	fmt.Fprintf(w, "    %s\n\n", cmd.Usage)

	if len(cmd.Flags) > 0 {
		fmt.Fprintf(w, "OPTIONS:\n")
		for _, flag := range cmd.Flags {
			flagStr := fmt.Sprintf("    --%s", flag.Name)
			if flag.Short != "" {
				flagStr += fmt.Sprintf(", -%s", flag.Short)
			}

			required := ""
			if flag.Required {
				required = " (required)"
			}

			fmt.Fprintf(w, "%-20s %s%s\n", flagStr, flag.Usage, required)
			if flag.Default != "" {
				fmt.Fprintf(w, "%-20s Default: %s\n", "", flag.Default)
			}
		}
		fmt.Fprintf(w, "\n")
	}

	if len(cmd.Examples) > 0 {
		fmt.Fprintf(w, "EXAMPLES:\n")
		for _, example := range cmd.Examples {
			fmt.Fprintf(w, "    %s\n", example)
		}
		fmt.Fprintf(w, "\n")
	}
}

// ValidateArgs validates command line arguments
func ValidateArgs(args []string, minArgs int, usage string) error {
	if len(args) < minArgs {
		return fmt.Errorf("insufficient arguments\nUsage: %s", usage)
	}
	return nil
}
