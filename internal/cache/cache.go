package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// ReportCache stores rendered report payloads. Keys embed the write epoch, so
// bumping the epoch after a committed write orphans every older entry.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Epoch(ctx context.Context) (int64, error)
	Bump(ctx context.Context) error
}

// NoopReportCache never hits. It still counts epochs so keys stay distinct.
type NoopReportCache struct {
	epoch atomic.Int64
}

func (*NoopReportCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (*NoopReportCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (c *NoopReportCache) Epoch(_ context.Context) (int64, error) {
	return c.epoch.Load(), nil
}

func (c *NoopReportCache) Bump(_ context.Context) error {
	c.epoch.Add(1)
	return nil
}
