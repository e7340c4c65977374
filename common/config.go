package common

import "github.com/spf13/viper"

// ===============================================================================
// Consoled Client Related Config

// ConsoledConfig defines the parameters used to reach and operate against a
// consoled server, loadable via viper from a file or the environment. It is
// the config-layer mirror of session.Config; front-ends unmarshal into this
// struct and hand the fields to session.New.
type ConsoledConfig struct {
	// Server is the consoled server hostname or address
	Server string `mapstructure:"server" json:"server" validate:"required,hostname_rfc1123|ip"`
	// Port is the consoled server TCP port
	Port uint16 `mapstructure:"port" json:"port" validate:"required,gt=0,lt=65536"`
	// TimeoutSec bounds blocking client calls, in seconds
	TimeoutSec int `mapstructure:"timeout_sec" json:"timeout_sec" validate:"gte=1"`
	// ConnectTimeoutSec bounds the initial TCP handshake, in seconds
	ConnectTimeoutSec int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// StatusLifetimeSec is how long a cached general status is considered fresh
	StatusLifetimeSec int `mapstructure:"status_lifetime_sec" json:"status_lifetime_sec" validate:"gte=1"`
	// Verbose enables additional informational logging
	Verbose bool `mapstructure:"verbose" json:"verbose"`
	// Debug enables raw-frame logging to disk
	Debug bool `mapstructure:"debug" json:"debug"`
	// TimestampData prefixes received lines with a timestamp on read
	TimestampData bool `mapstructure:"timestamp_data" json:"timestamp_data"`
	// TimestampFmt is the Go time format used for those prefixes
	TimestampFmt string `mapstructure:"timestamp_fmt" json:"timestamp_fmt" validate:"required"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	viper.SetDefault("server", "127.0.0.1")
	viper.SetDefault("port", 29168)
	viper.SetDefault("timeout_sec", 5)
	viper.SetDefault("connect_timeout_sec", 5)
	viper.SetDefault("status_lifetime_sec", 120)
	viper.SetDefault("verbose", false)
	viper.SetDefault("debug", false)
	viper.SetDefault("timestamp_data", false)
	viper.SetDefault("timestamp_fmt", "2006-01-02T15:04:05.000Z07:00 ")
}
