package cluster

import (
	"time"

	"github.com/bbcarchdev/libcluster/types"
)

// Option configures a Cluster at construction time. Options are applied
// before validation, so invalid values surface from New.
type Option func(*Cluster)

// RegistryDialer opens a registry backend for the given endpoint and scope.
// Supplying one replaces the built-in scheme dispatch; the engine calls it
// twice per join, once per background loop.
type RegistryDialer func(endpoint string, scope types.Scope, ttl time.Duration, logger types.Logger) (types.Registry, error)

// WithLogger sets the logger.
//
// Example:
//
//	logger := logging.NewSlogDefault()
//	c, err := cluster.New("spider", cluster.WithLogger(logger))
func WithLogger(logger types.Logger) Option {
	return func(c *Cluster) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets a metrics collector.
func WithMetrics(collector types.MetricsCollector) Option {
	return func(c *Cluster) {
		if collector != nil {
			c.metrics = collector
		}
	}
}

// WithBalancer sets the rebalance callback.
func WithBalancer(fn BalanceFunc) Option {
	return func(c *Cluster) {
		c.balancer = fn
	}
}

// WithEnvironment sets the environment namespace.
func WithEnvironment(env string) Option {
	return func(c *Cluster) {
		c.cfg.Environment = env
	}
}

// WithPartition sets the partition sub-namespace.
func WithPartition(partition string) Option {
	return func(c *Cluster) {
		c.cfg.Partition = partition
	}
}

// WithInstanceID sets a stable instance identifier instead of the generated
// token.
func WithInstanceID(id string) Option {
	return func(c *Cluster) {
		c.cfg.InstanceID = id
	}
}

// WithWorkers sets the number of worker slots this member contributes.
func WithWorkers(n int) Option {
	return func(c *Cluster) {
		c.cfg.Workers = n
	}
}

// WithRegistry sets the registry endpoint URI.
func WithRegistry(uri string) Option {
	return func(c *Cluster) {
		c.cfg.Registry = uri
	}
}

// WithTTL sets the registry entry time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cluster) {
		c.cfg.TTL = ttl
	}
}

// WithRefresh sets the heartbeat period.
func WithRefresh(refresh time.Duration) Option {
	return func(c *Cluster) {
		c.cfg.Refresh = refresh
	}
}

// WithForkPolicy selects which side of a process fork resumes membership.
func WithForkPolicy(policy ForkPolicy) Option {
	return func(c *Cluster) {
		c.cfg.ForkPolicy = policy
	}
}

// WithRegistryDialer replaces the built-in backend selection. Intended for
// tests and for embedding custom registries.
func WithRegistryDialer(dialer RegistryDialer) Option {
	return func(c *Cluster) {
		c.dialer = dialer
	}
}
