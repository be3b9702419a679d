// Package config loads the settings of the three binaries from command line
// flags, with PALANTIR_* environment variables as fallback for any flag that
// was not set explicitly.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamware/palantir/internal/validation"
)

// EnvPrefix prefixes every environment variable, e.g. PALANTIR_HEALTH_CHECK_SECONDS.
const EnvPrefix = "PALANTIR"

// Registry configures the registry service.
type Registry struct {
	DispatchPath       string        `mapstructure:"dispatch-path" validate:"required"`
	LogLevel           string        `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	ProbeTimeout       time.Duration `mapstructure:"probe-timeout" validate:"gt=0"`
	Port               int           `mapstructure:"port" validate:"min=1,max=65535"`
	HealthCheckSeconds int           `mapstructure:"health-check-seconds" validate:"min=1"`
	EvictionThreshold  int           `mapstructure:"eviction-threshold" validate:"min=1"`
	ProbeConcurrency   int           `mapstructure:"probe-concurrency" validate:"min=1"`
}

func (r Registry) HealthCheckInterval() time.Duration {
	return time.Duration(r.HealthCheckSeconds) * time.Second
}

func (r Registry) ListenAddr() string {
	return fmt.Sprintf(":%d", r.Port)
}

func BindRegistryFlags(flags *pflag.FlagSet) {
	flags.IntP("port", "p", 5000, "port the registry API listens on")
	flags.Int("health-check-seconds", 60, "interval in seconds between health checks of all registered services")
	flags.Duration("probe-timeout", 5*time.Second, "timeout of a single liveness probe")
	flags.Int("eviction-threshold", 1, "consecutive failed probes before a service is removed")
	flags.Int("probe-concurrency", 8, "liveness probes in flight at once")
	flags.String("dispatch-path", "/convert", "path on a worker that accepts files")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
}

func LoadRegistry(flags *pflag.FlagSet) (Registry, error) {
	var cfg Registry
	err := load(flags, &cfg)
	return cfg, err
}

// Dispatch configures a single file dispatch.
type Dispatch struct {
	RegistryIP    string        `mapstructure:"registry-service-ip" validate:"required"`
	File          string        `mapstructure:"file" validate:"required"`
	Filename      string        `mapstructure:"filename"`
	LogLevel      string        `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	RetryInterval time.Duration `mapstructure:"retry-interval" validate:"gt=0"`
	MaxAttempts   uint64        `mapstructure:"max-attempts"`
	RegistryPort  int           `mapstructure:"registry-service-port" validate:"min=1,max=65535"`
}

func (d Dispatch) RegistryAddr() string {
	return net.JoinHostPort(d.RegistryIP, strconv.Itoa(d.RegistryPort))
}

func BindDispatchFlags(flags *pflag.FlagSet) {
	flags.String("registry-service-ip", "", "IP or host name of the registry service")
	flags.Int("registry-service-port", 5000, "port the registry service listens on")
	flags.StringP("file", "f", "", "path of the capture file to send")
	flags.StringP("filename", "n", "", "name of the file as seen by the worker (default: base name of --file)")
	flags.Duration("retry-interval", 10*time.Second, "delay before searching for a worker again after a failure")
	flags.Uint64("max-attempts", 0, "give up after this many attempts (0: never)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
}

func LoadDispatch(flags *pflag.FlagSet) (Dispatch, error) {
	var cfg Dispatch
	err := load(flags, &cfg)
	return cfg, err
}

// Worker configures the reference worker.
type Worker struct {
	Name          string `mapstructure:"name" validate:"required"`
	PublicURL     string `mapstructure:"public-url"`
	RegistryIP    string `mapstructure:"registry-service-ip" validate:"required"`
	SpoolDir      string `mapstructure:"spool-dir" validate:"required"`
	LogLevel      string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	Port          int    `mapstructure:"port" validate:"min=1,max=65535"`
	RegistryPort  int    `mapstructure:"registry-service-port" validate:"min=1,max=65535"`
	UpdateSeconds int    `mapstructure:"update-seconds" validate:"min=1"`
}

// URL is the address announced to the registry.
func (w Worker) URL() string {
	if w.PublicURL != "" {
		return w.PublicURL
	}
	return fmt.Sprintf("http://%s:%d", w.Name, w.Port)
}

func (w Worker) ListenAddr() string {
	return fmt.Sprintf(":%d", w.Port)
}

func (w Worker) RegistryAddr() string {
	return net.JoinHostPort(w.RegistryIP, strconv.Itoa(w.RegistryPort))
}

func (w Worker) UpdateInterval() time.Duration {
	return time.Duration(w.UpdateSeconds) * time.Second
}

func BindWorkerFlags(flags *pflag.FlagSet) {
	flags.StringP("name", "n", "", "name of the worker, unique among all workers")
	flags.IntP("port", "p", 7000, "port the worker API listens on")
	flags.String("public-url", "", "address announced to the registry (default: http://<name>:<port>)")
	flags.String("registry-service-ip", "", "IP or host name of the registry service")
	flags.Int("registry-service-port", 5000, "port the registry service listens on")
	flags.Int("update-seconds", 60, "interval in seconds between re-announcements to the registry")
	flags.String("spool-dir", "/var/spool/palantir", "directory received files are written to")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
}

func LoadWorker(flags *pflag.FlagSet) (Worker, error) {
	var cfg Worker
	err := load(flags, &cfg)
	return cfg, err
}

func load(flags *pflag.FlagSet, out any) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := validation.Struct(out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
