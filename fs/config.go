package fs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/fserr"
	"github.com/shardfs/shardfs/mlog"
)

// Config describes one shard's slice of the device.
type Config struct {
	Geometry common.Geometry `yaml:"geometry"`
	Shard    common.ShardID  `yaml:"shard"`

	// StartCluster is the head of the shard's metadata log; mkfs writes
	// it there and mount reads it back from there.
	StartCluster common.ClusterID `yaml:"start_cluster"`

	// ReservedClusters are held back from allocation as headroom.
	ReservedClusters uint64 `yaml:"reserved_clusters"`

	// InlineThreshold is the largest write stored inline in the
	// metadata log; bigger writes go to the data log.
	InlineThreshold uint64 `yaml:"inline_threshold"`
}

func DefaultConfig(geo common.Geometry) Config {
	return Config{
		Geometry:        geo,
		StartCluster:    0,
		InlineThreshold: 4096,
	}
}

func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if c.Geometry.ClusterSize < mlog.MinClusterSize {
		return fserr.ErrClusterTooSmall
	}
	if !c.Geometry.Contains(c.StartCluster) {
		return fserr.ErrInvalidClusterRange
	}
	if c.ReservedClusters >= c.Geometry.Clusters {
		return fserr.ErrTooLittleClusters
	}
	if c.InlineThreshold > mlog.MaxInlineData {
		return fserr.ErrSizeTooBig
	}
	return nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
