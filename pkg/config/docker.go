package config

import (
	"net"
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the application is running inside a Docker container.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when
// running in a container so Postgres, Redis and Kafka on the host stay
// reachable. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return resolveLoopback(host)
}

func resolveLoopback(host string) string {
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}

// resolveBrokerForDocker applies ResolveHostForDocker to a host:port broker address.
func resolveBrokerForDocker(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ResolveHostForDocker(addr)
	}
	return net.JoinHostPort(ResolveHostForDocker(host), port)
}

func (c *Config) resolveDockerHosts() {
	c.Database.Host = ResolveHostForDocker(c.Database.Host)
	if c.Redis.Enabled() {
		c.Redis.Host = ResolveHostForDocker(c.Redis.Host)
	}
	for i, b := range c.Kafka.Brokers {
		c.Kafka.Brokers[i] = resolveBrokerForDocker(b)
	}
}
