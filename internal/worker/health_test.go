package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kiscz/mcrouter/internal/stats"
)

func unreachableRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})
}

func TestHealthServerHandleStatsReturnsSnapshot(t *testing.T) {
	sink := stats.NewSink()
	sink.Incr(stats.NumServers)

	hs := NewHealthServer(18099, unreachableRedisClient(), sink, zap.NewNop())
	if err := hs.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer hs.Stop()

	time.Sleep(50 * time.Millisecond)
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/stats", 18099))
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var got map[string]int64
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal /stats body: %v", err)
	}
	if got[stats.NumServers] != 1 {
		t.Fatalf("expected num_servers_stat=1 in /stats response, got %+v", got)
	}
}

func TestHealthServerHandleHealthReportsUnhealthyWhenRedisUnreachable(t *testing.T) {
	hs := NewHealthServer(18100, unreachableRedisClient(), stats.NewSink(), zap.NewNop())
	if err := hs.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer hs.Stop()

	time.Sleep(50 * time.Millisecond)
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", 18100))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with an unreachable redis, got %d", resp.StatusCode)
	}
}
