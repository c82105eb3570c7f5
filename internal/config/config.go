// Package config loads SnapGuard settings.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, a .env file plus SNAPGUARD_* environment variables, and finally
// command-line flags (applied by the cli package). The merged result is
// checked against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/snapguard/internal/ipresolve"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SNAPGUARD_"

// Config holds every runtime setting.
type Config struct {
	Database        string        `yaml:"database"`
	Backend         string        `yaml:"backend"`
	Listen          string        `yaml:"listen"`
	PublicURL       string        `yaml:"public_url"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	Countdown       int           `yaml:"countdown"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	IPLookupURL     string        `yaml:"ip_lookup_url"`
	IPLookupTimeout time.Duration `yaml:"ip_lookup_timeout"`
	ViewOnce        bool          `yaml:"view_once"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database:        "snapguard.db",
		Backend:         "blob",
		Listen:          ":8080",
		PublicURL:       "http://localhost:8080",
		AllowedOrigins:  []string{"http://localhost:5173"},
		Countdown:       10,
		TickInterval:    time.Second,
		IPLookupURL:     ipresolve.DefaultLookupURL,
		IPLookupTimeout: ipresolve.DefaultTimeout,
		ViewOnce:        false,
	}
}

// Error reports an invalid configuration value.
type Error struct {
	// Source names where the value came from (file path, env var, "schema").
	Source string

	// Message is a human-readable description.
	Message string

	// Pos locates the problem in the schema or file, if known.
	Pos token.Pos
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Source, e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Message)
}

// IsConfigError reports whether err is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), envFiles (".env" when none are given; a missing default
// file is not an error) and the process environment, then validates it.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}
	if err := cfg.mergeEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		return &Error{Source: path, Message: err.Error()}
	}
	slog.Debug("config file loaded", "path", path)
	return nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		err := godotenv.Load()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files %v: %w", files, err)
	}
	return nil
}

// mergeEnv applies SNAPGUARD_* overrides found through lookup.
func (c *Config) mergeEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("DB", &c.Database)
	str("BACKEND", &c.Backend)
	str("LISTEN", &c.Listen)
	str("PUBLIC_URL", &c.PublicURL)
	str("IP_LOOKUP_URL", &c.IPLookupURL)

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.AllowedOrigins = origins
	}

	if v, ok := lookup(EnvPrefix + "COUNTDOWN"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Source: EnvPrefix + "COUNTDOWN", Message: fmt.Sprintf("invalid integer %q", v)}
		}
		c.Countdown = n
	}

	durations := map[string]*time.Duration{
		"TICK_INTERVAL":     &c.TickInterval,
		"IP_LOOKUP_TIMEOUT": &c.IPLookupTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return &Error{Source: EnvPrefix + name, Message: fmt.Sprintf("invalid duration %q", v)}
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "VIEW_ONCE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Source: EnvPrefix + "VIEW_ONCE", Message: fmt.Sprintf("invalid boolean %q", v)}
		}
		c.ViewOnce = b
	}
	return nil
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return formatCUEError(err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(c.schemaView()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// schemaView is the shape the CUE schema constrains.
func (c Config) schemaView() map[string]any {
	origins := c.AllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	return map[string]any{
		"database":             c.Database,
		"backend":              c.Backend,
		"listen":               c.Listen,
		"public_url":           c.PublicURL,
		"allowed_origins":      origins,
		"countdown":            c.Countdown,
		"tick_interval_ms":     c.TickInterval.Milliseconds(),
		"ip_lookup_url":        c.IPLookupURL,
		"ip_lookup_timeout_ms": c.IPLookupTimeout.Milliseconds(),
		"view_once":            c.ViewOnce,
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Source: "schema", Message: err.Error()}
	}

	first := errs[0]
	ce := &Error{Source: "schema", Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
