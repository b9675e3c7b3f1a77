package watchdog

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HTTPHealthCheck succeeds when a GET on URL answers 2xx. Pointed at the
// gateway's /health route it confirms the listener is up without opening a
// chat session.
type HTTPHealthCheck struct {
	URL string
}

var healthClient = &http.Client{
	Transport: &http.Transport{DisableKeepAlives: true},
}

func (p HTTPHealthCheck) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("health request %s: %w", p.URL, err)
	}
	resp, err := healthClient.Do(req)
	if err != nil {
		return fmt.Errorf("health %s: %w", p.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health %s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}

// RedisProbe opens a fresh connection and sends PING.
type RedisProbe struct {
	URL string
}

func (p RedisProbe) Check(ctx context.Context) error {
	opts, err := redis.ParseURL(p.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = -1

	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// MongoProbe connects and pings the primary.
type MongoProbe struct {
	URI string
}

func (p MongoProbe) Check(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(p.URI))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer client.Disconnect(context.WithoutCancel(ctx))

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	return nil
}

// GRPCHealthProbe queries the standard gRPC health service. An empty
// Service asks about the server as a whole.
type GRPCHealthProbe struct {
	Addr    string
	Service string
}

func (p GRPCHealthProbe) Check(ctx context.Context) error {
	conn, err := grpc.NewClient(p.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", p.Addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.Service})
	if err != nil {
		return fmt.Errorf("grpc health %s: %w", p.Addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health %s: %s", p.Addr, resp.GetStatus())
	}
	return nil
}
