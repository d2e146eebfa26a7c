package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/danmuck/rbclean/src/backup"
	"github.com/danmuck/rbclean/src/cleaner"
	"github.com/danmuck/rbclean/src/failures"
	"github.com/danmuck/rbclean/src/store"
)

const defaultConfigFile = "./rbclean.toml"

// RestoreLatest asks --restore to pick the newest archive in the backup dir.
const RestoreLatest = "latest"

type RuntimeConfig struct {
	Host          string        `toml:"host"`
	Port          int           `toml:"port"`
	Password      string        `toml:"password"`
	DB            int           `toml:"db"`
	Timeout       time.Duration `toml:"timeout"`
	Key           string        `toml:"key"`
	BackupDir     string        `toml:"backup_dir"`
	NoBackup      bool          `toml:"no_backup"`
	DryRun        bool          `toml:"dry_run"`
	Workers       int           `toml:"workers"`
	KeepMalformed bool          `toml:"keep_malformed"`
	Timezone      string        `toml:"timezone"`
	Verbose       bool          `toml:"verbose"`

	ConfigPath  string `toml:"-"`
	RestorePath string `toml:"-"`
	ShowHelp    bool   `toml:"-"`
}

// envConfig is the environment overlay. Pointers stay nil when the variable
// is unset so an empty environment never clobbers file values.
type envConfig struct {
	Host      *string `env:"RBCLEAN_REDIS_HOST"`
	Port      *int    `env:"RBCLEAN_REDIS_PORT"`
	Password  *string `env:"RBCLEAN_REDIS_PASSWORD"`
	DB        *int    `env:"RBCLEAN_REDIS_DB"`
	Key       *string `env:"RBCLEAN_CACHE_KEY"`
	BackupDir *string `env:"RBCLEAN_BACKUP_DIR"`
	Workers   *int    `env:"RBCLEAN_WORKERS"`
}

func defaultConfig() RuntimeConfig {
	return RuntimeConfig{
		Port:      store.DefaultPort,
		Timeout:   store.DefaultTimeout,
		Key:       cleaner.DefaultKey,
		BackupDir: ".",
	}
}

const (
	HOST_FLAG           = "--host"
	HOST_SHORT          = "-h"
	PORT_FLAG           = "--port"
	PORT_SHORT          = "-p"
	PASSWORD_FLAG       = "--password"
	PASSWORD_SHORT      = "-w"
	DRY_RUN_FLAG        = "--dry-run"
	DRY_RUN_SHORT       = "-d"
	NO_BACKUP_FLAG      = "--no-backup"
	BACKUP_DIR_FLAG     = "--backup-dir"
	KEY_FLAG            = "--key"
	WORKERS_FLAG        = "--workers"
	KEEP_MALFORMED_FLAG = "--keep-malformed"
	DB_FLAG             = "--db"
	TIMEOUT_FLAG        = "--timeout"
	TIMEZONE_FLAG       = "--timezone"
	CONFIG_FLAG         = "--config"
	RESTORE_FLAG        = "--restore"
	VERBOSE_FLAG        = "--verbose"
	HELP_FLAG           = "--help"
)

// loadRuntimeConfig layers defaults, the TOML file, the environment and
// finally the command line, then validates the result.
func loadRuntimeConfig(args []string) (RuntimeConfig, error) {
	cfg := defaultConfig()

	path, explicit, err := configPath(args)
	if err != nil {
		return cfg, err
	}
	if cfg, err = applyConfigFile(cfg, path, explicit); err != nil {
		return cfg, err
	}
	if cfg, err = applyEnv(cfg); err != nil {
		return cfg, err
	}
	if cfg, err = parseCLI(args, cfg); err != nil {
		return cfg, err
	}
	if cfg.ShowHelp {
		return cfg, nil
	}
	return cfg, cfg.validate()
}

// configPath finds --config ahead of the full parse, since the file sits
// below the command line in precedence.
func configPath(args []string) (string, bool, error) {
	for i := 0; i < len(args); i++ {
		if args[i] == CONFIG_FLAG {
			if i+1 >= len(args) {
				return "", false, configErrorf("missing value after %q", CONFIG_FLAG)
			}
			return strings.TrimSpace(args[i+1]), true, nil
		}
		if after, ok := strings.CutPrefix(args[i], CONFIG_FLAG+"="); ok {
			return strings.TrimSpace(after), true, nil
		}
	}
	return defaultConfigFile, false, nil
}

func applyConfigFile(cfg RuntimeConfig, path string, explicit bool) (RuntimeConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, failures.Wrap(failures.ErrConfig, "config file", err)
	}
	fileCfg := cfg
	if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		return cfg, failures.Wrap(failures.ErrConfig, "decode "+path, err)
	}
	fileCfg.ConfigPath = path
	return fileCfg, nil
}

func applyEnv(cfg RuntimeConfig) (RuntimeConfig, error) {
	var overlay envConfig
	if err := env.Parse(&overlay); err != nil {
		return cfg, failures.Wrap(failures.ErrConfig, "parse env", err)
	}
	if overlay.Host != nil {
		cfg.Host = *overlay.Host
	}
	if overlay.Port != nil {
		cfg.Port = *overlay.Port
	}
	if overlay.Password != nil {
		cfg.Password = *overlay.Password
	}
	if overlay.DB != nil {
		cfg.DB = *overlay.DB
	}
	if overlay.Key != nil {
		cfg.Key = *overlay.Key
	}
	if overlay.BackupDir != nil {
		cfg.BackupDir = *overlay.BackupDir
	}
	if overlay.Workers != nil {
		cfg.Workers = *overlay.Workers
	}
	return cfg, nil
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", failures.ErrConfig, fmt.Sprintf(format, args...))
}

// flagValue matches "--flag VALUE", "--flag=VALUE" and the same forms for
// short, when short is non-empty. It reports whether arg was that flag.
func flagValue(args []string, i *int, long, short string) (string, bool, error) {
	arg := args[*i]
	if arg == long || (short != "" && arg == short) {
		if *i+1 >= len(args) {
			return "", true, configErrorf("missing value after %q", arg)
		}
		*i++
		return strings.TrimSpace(args[*i]), true, nil
	}
	if after, ok := strings.CutPrefix(arg, long+"="); ok {
		return strings.TrimSpace(after), true, nil
	}
	if short != "" {
		if after, ok := strings.CutPrefix(arg, short+"="); ok {
			return strings.TrimSpace(after), true, nil
		}
	}
	return "", false, nil
}

func parseInt(flag, raw string) (int, error) {
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, configErrorf("invalid %s value %q: %v", flag, raw, err)
	}
	return parsed, nil
}

func parseCLI(args []string, cfg RuntimeConfig) (RuntimeConfig, error) {
	runtimeCfg := cfg

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case DRY_RUN_FLAG, DRY_RUN_SHORT:
			runtimeCfg.DryRun = true
			continue
		case NO_BACKUP_FLAG:
			runtimeCfg.NoBackup = true
			continue
		case KEEP_MALFORMED_FLAG:
			runtimeCfg.KeepMalformed = true
			continue
		case VERBOSE_FLAG:
			runtimeCfg.Verbose = true
			continue
		case HELP_FLAG:
			runtimeCfg.ShowHelp = true
			continue
		}

		if raw, ok, err := flagValue(args, &i, HOST_FLAG, HOST_SHORT); ok {
			if err != nil {
				return runtimeCfg, err
			}
			runtimeCfg.Host = raw
			continue
		}
		if raw, ok, err := flagValue(args, &i, PORT_FLAG, PORT_SHORT); ok {
			if err != nil {
				return runtimeCfg, err
			}
			if runtimeCfg.Port, err = parseInt(PORT_FLAG, raw); err != nil {
				return runtimeCfg, err
			}
			continue
		}
		if raw, ok, err := flagValue(args, &i, PASSWORD_FLAG, PASSWORD_SHORT); ok {
			if err != nil {
				return runtimeCfg, err
			}
			runtimeCfg.Password = raw
			continue
		}
		if raw, ok, err := flagValue(args, &i, BACKUP_DIR_FLAG, ""); ok {
			if err != nil {
				return runtimeCfg, err
			}
			runtimeCfg.BackupDir = raw
			continue
		}
		if raw, ok, err := flagValue(args, &i, KEY_FLAG, ""); ok {
			if err != nil {
				return runtimeCfg, err
			}
			runtimeCfg.Key = raw
			continue
		}
		if raw, ok, err := flagValue(args, &i, WORKERS_FLAG, ""); ok {
			if err != nil {
				return runtimeCfg, err
			}
			if runtimeCfg.Workers, err = parseInt(WORKERS_FLAG, raw); err != nil {
				return runtimeCfg, err
			}
			continue
		}
		if raw, ok, err := flagValue(args, &i, DB_FLAG, ""); ok {
			if err != nil {
				return runtimeCfg, err
			}
			if runtimeCfg.DB, err = parseInt(DB_FLAG, raw); err != nil {
				return runtimeCfg, err
			}
			continue
		}
		if raw, ok, err := flagValue(args, &i, TIMEOUT_FLAG, ""); ok {
			if err != nil {
				return runtimeCfg, err
			}
			parsed, perr := time.ParseDuration(raw)
			if perr != nil {
				return runtimeCfg, configErrorf("invalid %s value %q: %v", TIMEOUT_FLAG, raw, perr)
			}
			runtimeCfg.Timeout = parsed
			continue
		}
		if raw, ok, err := flagValue(args, &i, TIMEZONE_FLAG, ""); ok {
			if err != nil {
				return runtimeCfg, err
			}
			runtimeCfg.Timezone = raw
			continue
		}
		if raw, ok, err := flagValue(args, &i, CONFIG_FLAG, ""); ok {
			if err != nil {
				return runtimeCfg, err
			}
			runtimeCfg.ConfigPath = raw
			continue
		}
		if raw, ok, err := flagValue(args, &i, RESTORE_FLAG, ""); ok {
			if err != nil {
				return runtimeCfg, err
			}
			runtimeCfg.RestorePath = raw
			continue
		}

		return runtimeCfg, configErrorf("unsupported argument %q", arg)
	}

	return runtimeCfg, nil
}

func (c RuntimeConfig) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return configErrorf("a host is required (%s HOST)", HOST_SHORT)
	}
	if c.Port < 1 || c.Port > 65535 {
		return configErrorf("port %d out of range", c.Port)
	}
	if c.DB < 0 {
		return configErrorf("%s must be >= 0", DB_FLAG)
	}
	if c.Workers < 0 {
		return configErrorf("%s must be >= 0", WORKERS_FLAG)
	}
	if c.Timeout <= 0 {
		return configErrorf("%s must be positive", TIMEOUT_FLAG)
	}
	if strings.TrimSpace(c.Key) == "" {
		return configErrorf("%s must not be empty", KEY_FLAG)
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

// location resolves --timezone; empty means the machine's local zone.
func (c RuntimeConfig) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, configErrorf("unknown %s %q: %v", TIMEZONE_FLAG, c.Timezone, err)
	}
	return loc, nil
}

func (c RuntimeConfig) storeOptions() store.Options {
	return store.Options{
		Host:     c.Host,
		Port:     c.Port,
		Password: c.Password,
		DB:       c.DB,
		Timeout:  c.Timeout,
	}
}

func (c RuntimeConfig) backupWriter() backup.Writer {
	return backup.Writer{Dir: c.BackupDir}
}

func printUsage(w io.Writer, cfg RuntimeConfig) {
	fmt.Fprintf(w, "Usage: rbclean %s HOST [%s PORT] [%s PASSWORD] [%s] [options]\n",
		HOST_SHORT, PORT_SHORT, PASSWORD_SHORT, DRY_RUN_SHORT)
	fmt.Fprintln(w, "Removes expired entries from the proxy's UUID cache hash.")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s, %s HOST        Redis host (required)\n", HOST_SHORT, HOST_FLAG)
	fmt.Fprintf(w, "  %s, %s PORT        Redis port (default %d)\n", PORT_SHORT, PORT_FLAG, cfg.Port)
	fmt.Fprintf(w, "  %s, %s PW      Redis password\n", PASSWORD_SHORT, PASSWORD_FLAG)
	fmt.Fprintf(w, "  %s, %s           report what would be removed, change nothing\n", DRY_RUN_SHORT, DRY_RUN_FLAG)
	fmt.Fprintf(w, "  %s           skip the pre-sweep backup\n", NO_BACKUP_FLAG)
	fmt.Fprintf(w, "  %s DIR      where backups are written (default %q)\n", BACKUP_DIR_FLAG, cfg.BackupDir)
	fmt.Fprintf(w, "  %s NAME            hash key to sweep (default %q)\n", KEY_FLAG, cfg.Key)
	fmt.Fprintf(w, "  %s N           sweep workers, 0 for one per CPU (default %d)\n", WORKERS_FLAG, cfg.Workers)
	fmt.Fprintf(w, "  %s      retain entries that cannot be decoded\n", KEEP_MALFORMED_FLAG)
	fmt.Fprintf(w, "  %s N                Redis database (default %d)\n", DB_FLAG, cfg.DB)
	fmt.Fprintf(w, "  %s DUR         dial and I/O timeout (default %s)\n", TIMEOUT_FLAG, cfg.Timeout)
	fmt.Fprintf(w, "  %s NAME       zone of stored expiry fields (default local)\n", TIMEZONE_FLAG)
	fmt.Fprintf(w, "  %s PATH         TOML config file (default %s when present)\n", CONFIG_FLAG, defaultConfigFile)
	fmt.Fprintf(w, "  %s PATH        replace the hash with a backup archive (%q for the newest)\n", RESTORE_FLAG, RestoreLatest)
	fmt.Fprintf(w, "  %s            print a phase summary\n", VERBOSE_FLAG)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment: RBCLEAN_REDIS_HOST, RBCLEAN_REDIS_PORT, RBCLEAN_REDIS_PASSWORD,")
	fmt.Fprintln(w, "RBCLEAN_REDIS_DB, RBCLEAN_CACHE_KEY, RBCLEAN_BACKUP_DIR, RBCLEAN_WORKERS.")
	fmt.Fprintln(w, "Run at most one rbclean against a given cache key at a time.")
}
