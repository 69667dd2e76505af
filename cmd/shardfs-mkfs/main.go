// Command shardfs-mkfs formats a device (or image file) as one shard:
// it writes the metadata log head with a root directory and seals it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/device"
	"github.com/shardfs/shardfs/fs"
)

func main() {
	var (
		configPath  = pflag.String("config", "", "YAML config file; overrides the geometry flags")
		clusterSize = pflag.Uint64("cluster-size", 1<<20, "cluster size in bytes")
		alignment   = pflag.Uint64("alignment", 4096, "device write alignment in bytes")
		clusters    = pflag.Uint64("clusters", 1024, "number of clusters on the device")
		shard       = pflag.Uint64("shard", 0, "shard that owns this slice of the device")
		start       = pflag.Uint64("start-cluster", 0, "head cluster of the metadata log")
		reserved    = pflag.Uint64("reserved", 0, "clusters held back from allocation")
		inline      = pflag.Uint64("inline-threshold", 4096, "largest write stored inline in the metadata log")
	)
	pflag.Parse()
	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <device>\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(2)
	}

	var cfg fs.Config
	var err error
	if *configPath != "" {
		cfg, err = fs.LoadConfig(*configPath)
	} else {
		cfg = fs.Config{
			Geometry: common.Geometry{
				ClusterSize: *clusterSize,
				Alignment:   *alignment,
				Clusters:    *clusters,
			},
			Shard:            common.ShardID(*shard),
			StartCluster:     common.ClusterID(*start),
			ReservedClusters: *reserved,
			InlineThreshold:  *inline,
		}
		err = cfg.Validate()
	}
	if err != nil {
		die("invalid config: %v", err)
	}

	dev, err := device.OpenFileDevice(pflag.Arg(0), cfg.Geometry.DiskSize())
	if err != nil {
		die("%v", err)
	}
	defer dev.Close()

	if err := fs.Mkfs(dev, cfg); err != nil {
		die("mkfs %s: %v", pflag.Arg(0), err)
	}
	fmt.Printf("formatted %s: shard %d, %d clusters of %d bytes, log head at cluster %d\n",
		pflag.Arg(0), cfg.Shard, cfg.Geometry.Clusters, cfg.Geometry.ClusterSize, cfg.StartCluster)
}

func die(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "shardfs-mkfs: "+format+"\n", a...)
	os.Exit(1)
}
