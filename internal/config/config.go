// Package config loads the CLI driver's configuration, layering defaults,
// an optional YAML file, and flag overrides with spf13/viper and
// spf13/pflag — grounded on niceyeti-tabular's viper.New()/SetConfigFile/
// AddConfigPath/Unmarshal pattern (reinforcement/learning.go's FromYaml).
package config

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RoutingMode selects whether the plan modifier replans legs ad-hoc.
type RoutingMode string

const (
	RoutingNone  RoutingMode = "none"
	RoutingAdHoc RoutingMode = "ad-hoc"
)

// Backend selects the inter-partition transport.
type Backend string

const (
	BackendInproc Backend = "inproc"
	BackendTCP    Backend = "tcp"
)

// Config holds the full CLI surface for a qsim run, plus the
// rank/peer-address bookkeeping needed to actually start a multi-process
// run.
type Config struct {
	NetworkFile    string `mapstructure:"network"`
	PopulationFile string `mapstructure:"population"`
	VehiclesFile   string `mapstructure:"vehicles"`
	PartitionFile  string `mapstructure:"partitions"`
	OutputDir      string `mapstructure:"output"`

	NumPartitions     int     `mapstructure:"num-partitions"`
	PartitionMethod   string  `mapstructure:"partition-method"`
	StartTime         uint32  `mapstructure:"start-time"`
	EndTime           uint32  `mapstructure:"end-time"`
	SampleSize        float64 `mapstructure:"sample-size"`
	EffectiveCellSize float64 `mapstructure:"effective-cell-size"`
	Routing           string  `mapstructure:"routing"`

	Rank        int      `mapstructure:"rank"`
	Backend     string   `mapstructure:"backend"`
	PeerAddrs   []string `mapstructure:"peers"`
	ListenAddr  string   `mapstructure:"listen"`
	Seed        int64    `mapstructure:"seed"`
	LogLevel    string   `mapstructure:"log-level"`
	ReceiveWait int      `mapstructure:"receive-timeout-seconds"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("num-partitions", 1)
	v.SetDefault("partition-method", "metis")
	v.SetDefault("start-time", 0)
	v.SetDefault("end-time", 86400)
	v.SetDefault("sample-size", 1.0)
	v.SetDefault("effective-cell-size", 7.5)
	v.SetDefault("routing", string(RoutingNone))
	v.SetDefault("rank", 0)
	v.SetDefault("backend", string(BackendInproc))
	v.SetDefault("seed", 42)
	v.SetDefault("log-level", "info")
	v.SetDefault("receive-timeout-seconds", 5)
}

// Flags registers every config key onto fs so the CLI driver's -flag
// overrides participate in viper's precedence chain (flags > file >
// defaults).
func Flags(fs *pflag.FlagSet) {
	fs.String("network", "", "network input file")
	fs.String("population", "", "population input file")
	fs.String("vehicles", "", "vehicle-definitions input file")
	fs.String("partitions", "", "node-id to partition mapping file")
	fs.String("output", ".", "output directory")
	fs.Int("num-partitions", 1, "number of partitions")
	fs.String("partition-method", "metis", "partitioning method")
	fs.Uint32("start-time", 0, "simulation start time (s)")
	fs.Uint32("end-time", 86400, "simulation end time (s)")
	fs.Float64("sample-size", 1.0, "population sample size, (0,1]")
	fs.Float64("effective-cell-size", 7.5, "effective cell size (m)")
	fs.String("routing", "none", "routing mode: none|ad-hoc")
	fs.Int("rank", 0, "this process's partition rank")
	fs.String("backend", "inproc", "transport backend: inproc|tcp")
	fs.StringSlice("peers", nil, "rank=host:port pairs for the tcp backend")
	fs.String("listen", "", "listen address for the tcp backend")
	fs.Int64("seed", 42, "RNG seed")
	fs.String("log-level", "info", "zerolog level")
	fs.Int("receive-timeout-seconds", 5, "sync barrier receive timeout")
	fs.String("config", "", "optional YAML config file")
}

// Load builds a Config from fs's parsed flags, optionally layering a YAML
// file named by the "config" flag underneath them.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "config: bind flags")
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Dir(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on malformed configuration (§7's "malformed input"
// category), before any tick runs.
func (c *Config) Validate() error {
	if c.SampleSize <= 0 || c.SampleSize > 1 {
		return fmt.Errorf("config: sample-size must be in (0, 1], got %v", c.SampleSize)
	}
	if c.Routing != string(RoutingNone) && c.Routing != string(RoutingAdHoc) {
		return fmt.Errorf("config: routing must be %q or %q, got %q", RoutingNone, RoutingAdHoc, c.Routing)
	}
	if c.Backend != string(BackendInproc) && c.Backend != string(BackendTCP) {
		return fmt.Errorf("config: backend must be %q or %q, got %q", BackendInproc, BackendTCP, c.Backend)
	}
	if c.NumPartitions < 1 {
		return fmt.Errorf("config: num-partitions must be >= 1, got %d", c.NumPartitions)
	}
	if c.Rank < 0 || c.Rank >= c.NumPartitions {
		return fmt.Errorf("config: rank %d out of range [0, %d)", c.Rank, c.NumPartitions)
	}
	return nil
}
