package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

func TestGRPCHealthTracksStore(t *testing.T) {
	pinger := &fakePinger{}
	g := NewGRPCHealth(pinger, time.Minute)
	ctx := context.Background()

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, g.Check(ctx))

	pinger.err = errors.New("database is locked")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, g.Check(ctx))

	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{})
	assert.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
