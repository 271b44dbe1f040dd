package config

import "github.com/dbroker/dbr/pkg/backend/redis/engine"

// EngineConfig resolves the backend section (including reading the auth
// secret file, if configured) into the shape engine.New expects.
func (c *Config) EngineConfig() (engine.Config, error) {
	secret, err := c.Backend.AuthSecret()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Hosts:             c.Backend.Hosts,
		AuthSecret:        secret,
		OperationTimeout:  c.Backend.OperationTimeout,
		ReconnectInterval: c.Backend.ReconnectInterval,
		PluginPath:        c.Backend.PluginPath,
		SendBufSize:       c.Backend.SendBufSize,
		RecvBufSize:       c.Backend.RecvBufSize,
	}, nil
}
