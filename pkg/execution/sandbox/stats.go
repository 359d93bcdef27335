package sandbox

import (
	"context"
	"encoding/json"

	dockerclient "github.com/docker/docker/client"
)

// dockerStatsSnapshot decodes only the memory field CXE cares about from
// the Docker stats JSON stream; the full struct carries CPU, network, and
// block-IO counters this engine does not need.
type dockerStatsSnapshot struct {
	MemoryStats struct {
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
}

// sampleOnce takes a single non-streaming stats snapshot for containerID.
func sampleOnce(ctx context.Context, cli *dockerclient.Client, containerID string) (int64, bool) {
	resp, err := cli.ContainerStats(ctx, containerID, false)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	var snap dockerStatsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return 0, false
	}
	return int64(snap.MemoryStats.Usage), true
}
