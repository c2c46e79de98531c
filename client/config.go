// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"gopkg.in/yaml.v3"

	"github.com/xtreemfs/xtreemfs-sub010/cache"
	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/lease"
	"github.com/xtreemfs/xtreemfs-sub010/replica"
	"github.com/xtreemfs/xtreemfs-sub010/transport"
	"github.com/xtreemfs/xtreemfs-sub010/util/limiter"
)

const (
	defaultMaxTries        = 5
	defaultRetryDelayMs    = 15000
	defaultMaxViewRenewals = 5
	defaultMaxTimeoutMs    = 30000
	defaultConnectTimeout  = 60000
	defaultCacheSize       = 100000
	defaultCacheTTLS       = 120
	defaultUUIDTTLS        = 60
)

type Config struct {
	VolumeName string `json:"volume_name" yaml:"volume_name"`
	// MRCAddresses are host:port pairs of the metadata replicas.
	MRCAddresses []string `json:"mrc_addresses" yaml:"mrc_addresses"`
	// DIRAddresses resolve OSD uuids. Without them uuids are taken as
	// addresses.
	DIRAddresses []string `json:"dir_addresses" yaml:"dir_addresses"`

	// MaxTries bounds metadata calls and is the default for data calls.
	// Unset uses 5, 0 retries forever.
	MaxTries        *int `json:"max_tries" yaml:"max_tries"`
	RetryDelayMs    int  `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	MaxRedirects    int  `json:"max_redirects" yaml:"max_redirects"`
	MaxViewRenewals int  `json:"max_view_renewals" yaml:"max_view_renewals"`
	UUIDCacheTTLS   int  `json:"uuid_cache_ttl_s" yaml:"uuid_cache_ttl_s"`

	Transport transport.Config    `json:"transport" yaml:"transport"`
	Replica   replica.Config      `json:"replica" yaml:"replica"`
	Cache     cache.Config        `json:"metadata_cache" yaml:"metadata_cache"`
	Lease     lease.Config        `json:"lease" yaml:"lease"`
	Limit     limiter.LimitConfig `json:"limit" yaml:"limit"`
}

func (cfg *Config) fillDefault() {
	if cfg.MaxTries == nil || *cfg.MaxTries < 0 {
		n := defaultMaxTries
		cfg.MaxTries = &n
	}
	if cfg.RetryDelayMs <= 0 {
		cfg.RetryDelayMs = defaultRetryDelayMs
	}
	if cfg.MaxViewRenewals <= 0 {
		cfg.MaxViewRenewals = defaultMaxViewRenewals
	}
	if cfg.UUIDCacheTTLS <= 0 {
		cfg.UUIDCacheTTLS = defaultUUIDTTLS
	}
	if cfg.Replica.MaxReadTries == nil || *cfg.Replica.MaxReadTries < 0 {
		cfg.Replica.MaxReadTries = cfg.MaxTries
	}
	if cfg.Replica.MaxWriteTries == nil || *cfg.Replica.MaxWriteTries < 0 {
		cfg.Replica.MaxWriteTries = cfg.MaxTries
	}
	if cfg.Replica.RetryDelayMs <= 0 {
		cfg.Replica.RetryDelayMs = cfg.RetryDelayMs
	}
	if cfg.Transport.MaxTimeoutMs == 0 {
		cfg.Transport.MaxTimeoutMs = defaultMaxTimeoutMs
	}
	if cfg.Transport.ConnectTimeoutMs == 0 {
		cfg.Transport.ConnectTimeoutMs = defaultConnectTimeout
	}
	if cfg.Cache.Size == 0 && cfg.Cache.TTLS == 0 {
		cfg.Cache.Size = defaultCacheSize
	}
	if cfg.Cache.TTLS <= 0 {
		cfg.Cache.TTLS = defaultCacheTTLS
	}
}

func (cfg *Config) validate() error {
	if cfg.VolumeName == "" {
		return fmt.Errorf("%w: volume name is empty", apierrors.ErrInvalidConfig)
	}
	if len(cfg.MRCAddresses) == 0 {
		return fmt.Errorf("%w: no mrc address", apierrors.ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a client configuration from a JSON or YAML file, chosen
// by the file extension.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		if err := config.LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
