package services

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// PruneResult summarises an image prune
type PruneResult struct {
	ImagesDeleted  int
	SpaceReclaimed uint64
}

// DockerService talks to the local Docker engine
type DockerService struct {
	cli *client.Client
}

// NewDockerService connects using the standard DOCKER_* environment
func NewDockerService(ctx context.Context) (*DockerService, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker engine unreachable: %w", err)
	}

	return &DockerService{cli: cli}, nil
}

// PruneDangling removes untagged images no container references
func (ds *DockerService) PruneDangling(ctx context.Context) (*PruneResult, error) {
	report, err := ds.cli.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true")))
	if err != nil {
		return nil, fmt.Errorf("failed to prune images: %w", err)
	}
	return &PruneResult{
		ImagesDeleted:  len(report.ImagesDeleted),
		SpaceReclaimed: report.SpaceReclaimed,
	}, nil
}

// Close releases the client
func (ds *DockerService) Close() error {
	return ds.cli.Close()
}
