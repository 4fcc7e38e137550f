// Command enginedemo wires the engine, cache, CAS, action, and registry
// packages together end to end: it builds a small two-level key graph
// (a Sum leaf and a Double key that requests it) twice in a row against
// the configured backends, logging what each build is expected to do
// and the value it returned.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/forgecache/action"
	"github.com/evalgo/forgecache/cache"
	"github.com/evalgo/forgecache/cas"
	"github.com/evalgo/forgecache/config"
	"github.com/evalgo/forgecache/engine"
	"github.com/evalgo/forgecache/fingerprint"
	"github.com/evalgo/forgecache/logging"
	"github.com/evalgo/forgecache/registry"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML engine configuration file")
	a := flag.Int("a", 2, "left operand for the demo Sum/Double key graph")
	b := flag.Int("b", 3, "right operand for the demo Sum/Double key graph")
	flag.Parse()

	if err := run(*configFile, *a, *b); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string, a, b int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger := logging.New(logging.Config{
		Service: cfg.Service,
		JSON:    cfg.LogJSON,
		Level:   level,
	})

	store, err := buildStore(cfg.CAS)
	if err != nil {
		return fmt.Errorf("building CAS backend: %w", err)
	}
	fnCache, err := buildCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("building function cache backend: %w", err)
	}

	executors := action.NewRegistry()
	executors.Register(action.NewLocalExecutor(store), action.Environment{"kind": "local-process"})

	resources := registry.NewService()
	resources.RegisterRuleset(&registry.Ruleset{
		Name:        "demo",
		Entrypoints: map[string]string{"double": "DoubleKey", "sum": "SumKey"},
	})

	opts := []engine.Option{
		engine.WithCache(fnCache),
		engine.WithExecutors(executors),
		engine.WithResources(resources),
		engine.WithLogger(logger),
	}
	if cfg.RequestOnlyCaching {
		opts = append(opts, engine.WithRequestOnlyCaching())
	}
	e := engine.New(store, opts...)

	key := doubleKey{A: a, B: b}

	logger.Info("first build (expect a cache miss and a CAS put)")
	v1, err := e.Build(context.Background(), key, cfg.Inputs, time.Time{})
	if err != nil {
		return fmt.Errorf("first build: %w", err)
	}
	logger.WithField("value", v1).Info("first build complete")

	logger.Info("second build (expect a cache hit, no recompute)")
	v2, err := e.Build(context.Background(), key, cfg.Inputs, time.Time{})
	if err != nil {
		return fmt.Errorf("second build: %w", err)
	}
	logger.WithField("value", v2).Info("second build complete")

	return nil
}

func buildStore(cfg config.CASConfig) (cas.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return cas.NewMemoryStore(), nil
	case "s3":
		return cas.NewS3Store(context.Background(), cas.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown CAS backend %q", cfg.Backend)
	}
}

func buildCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemoryCache(), nil
	case "bolt":
		return cache.NewBoltCache(cfg.BoltPath)
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{RedisURL: cfg.RedisURL})
	default:
		return nil, fmt.Errorf("unknown function cache backend %q", cfg.Backend)
	}
}

// --- demo key graph: Sum{a,b} and Double{a,b}, mirroring spec.md S2 ---

type sumValue struct {
	N int `json:"n"`
}

func (v sumValue) CASRefs() []cas.DataID  { return nil }
func (v sumValue) Encode() ([]byte, error) { return json.Marshal(v) }

type sumKey struct{ A, B int }

func (k sumKey) Name() string                                  { return "SumKey" }
func (k sumKey) AggregatedVersion() int                        { return 1 }
func (k sumKey) VersionDependencies() []string                 { return nil }
func (k sumKey) ActionDependencies() []string                  { return nil }
func (k sumKey) ConfigurationSelectors() []fingerprint.Selector { return nil }
func (k sumKey) ResourceEntitlements() []registry.ResourceKey   { return nil }
func (k sumKey) Hint() string                                  { return "demo sum" }
func (k sumKey) Fields() []fingerprint.Field {
	return []fingerprint.Field{
		{Name: "a", Value: fmt.Sprint(k.A)},
		{Name: "b", Value: fmt.Sprint(k.B)},
	}
}
func (k sumKey) Volatile() bool                { return false }
func (k sumKey) RecomputeOnCacheFailure() bool { return true }

func (k sumKey) Compute(iface *engine.Interface, ctx *engine.Context) (engine.Value, error) {
	return sumValue{N: k.A + k.B}, nil
}

func (k sumKey) DecodeValue(data []byte, refs []cas.DataID) (engine.Value, error) {
	var v sumValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type doubleKey struct{ A, B int }

func (k doubleKey) Name() string                                  { return "DoubleKey" }
func (k doubleKey) AggregatedVersion() int                        { return 2 }
func (k doubleKey) VersionDependencies() []string                 { return []string{"SumKey"} }
func (k doubleKey) ActionDependencies() []string                  { return nil }
func (k doubleKey) ConfigurationSelectors() []fingerprint.Selector { return nil }
func (k doubleKey) ResourceEntitlements() []registry.ResourceKey   { return nil }
func (k doubleKey) Hint() string                                  { return "demo double" }
func (k doubleKey) Fields() []fingerprint.Field {
	return []fingerprint.Field{
		{Name: "a", Value: fmt.Sprint(k.A)},
		{Name: "b", Value: fmt.Sprint(k.B)},
	}
}
func (k doubleKey) Volatile() bool                { return false }
func (k doubleKey) RecomputeOnCacheFailure() bool { return true }

func (k doubleKey) Compute(iface *engine.Interface, ctx *engine.Context) (engine.Value, error) {
	sum, err := iface.Request(sumKey{A: k.A, B: k.B}, false, ctx)
	if err != nil {
		return nil, err
	}
	return sumValue{N: sum.(sumValue).N * 2}, nil
}

func (k doubleKey) DecodeValue(data []byte, refs []cas.DataID) (engine.Value, error) {
	var v sumValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
