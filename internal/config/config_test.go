package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("registry", pflag.ContinueOnError)
	BindRegistryFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadRegistryDefaults(t *testing.T) {
	cfg, err := LoadRegistry(registryFlags(t))
	require.NoError(t, err)

	assert.Equal(t, Registry{
		DispatchPath:       "/convert",
		LogLevel:           "info",
		ProbeTimeout:       5 * time.Second,
		Port:               5000,
		HealthCheckSeconds: 60,
		EvictionThreshold:  1,
		ProbeConcurrency:   8,
	}, cfg)
	assert.Equal(t, time.Minute, cfg.HealthCheckInterval())
	assert.Equal(t, ":5000", cfg.ListenAddr())
}

func TestLoadRegistryFlagsAndEnv(t *testing.T) {
	t.Setenv("PALANTIR_HEALTH_CHECK_SECONDS", "15")
	t.Setenv("PALANTIR_PORT", "6000")

	cfg, err := LoadRegistry(registryFlags(t, "--port", "5001", "--probe-timeout", "750ms"))
	require.NoError(t, err)

	// explicit flags win over the environment
	assert.Equal(t, 5001, cfg.Port)
	assert.Equal(t, 15, cfg.HealthCheckSeconds)
	assert.Equal(t, 750*time.Millisecond, cfg.ProbeTimeout)
}

func TestLoadRegistryInvalid(t *testing.T) {
	_, err := LoadRegistry(registryFlags(t, "--health-check-seconds", "0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health-check-seconds must be at least 1")

	_, err = LoadRegistry(registryFlags(t, "--log-level", "loud"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log-level")
}

func TestLoadDispatch(t *testing.T) {
	flags := pflag.NewFlagSet("dispatch", pflag.ContinueOnError)
	BindDispatchFlags(flags)
	require.NoError(t, flags.Parse([]string{
		"--registry-service-ip", "10.0.0.5",
		"--registry-service-port", "5000",
		"--file", "/data/nfcapd.202410151200",
		"--max-attempts", "3",
	}))

	cfg, err := LoadDispatch(flags)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:5000", cfg.RegistryAddr())
	assert.Equal(t, "/data/nfcapd.202410151200", cfg.File)
	assert.Equal(t, uint64(3), cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.RetryInterval)
}

func TestLoadDispatchMissingRequired(t *testing.T) {
	flags := pflag.NewFlagSet("dispatch", pflag.ContinueOnError)
	BindDispatchFlags(flags)
	require.NoError(t, flags.Parse(nil))

	_, err := LoadDispatch(flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry-service-ip is required")
	assert.Contains(t, err.Error(), "file is required")
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("PALANTIR_REGISTRY_SERVICE_IP", "registry")

	flags := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	BindWorkerFlags(flags)
	require.NoError(t, flags.Parse([]string{"--name", "w1", "--spool-dir", "/tmp/spool"}))

	cfg, err := LoadWorker(flags)
	require.NoError(t, err)
	assert.Equal(t, "http://w1:7000", cfg.URL())
	assert.Equal(t, "registry:5000", cfg.RegistryAddr())
	assert.Equal(t, ":7000", cfg.ListenAddr())
	assert.Equal(t, time.Minute, cfg.UpdateInterval())

	cfg.PublicURL = "http://10.1.2.3:7000"
	assert.Equal(t, "http://10.1.2.3:7000", cfg.URL())
}
