package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"
)

type target struct {
	Path     string `json:"path"`
	Critical bool   `json:"critical"`
}

type config struct {
	Targets []target `json:"targets"`
}

var defaultTargets = []target{
	{Path: "/api/v1/courses", Critical: true},
	{Path: "/api/v1/todo", Critical: true},
	{Path: "/api/v1/stream"},
	{Path: "/api/v1/schedule"},
}

type envelope struct {
	Data json.RawMessage        `json:"data"`
	Meta map[string]interface{} `json:"meta"`
}

type check struct {
	Target        target
	RefreshStatus int
	CachedStatus  int
	CacheHit      bool
	BodyMatch     bool
	Partial       bool
	Error         error
	RefreshTook   time.Duration
	CachedTook    time.Duration
}

func (p check) ok() bool {
	return p.Error == nil && p.RefreshStatus == http.StatusOK && p.CachedStatus == http.StatusOK && p.CacheHit && p.BodyMatch
}

func main() {
	var (
		base        string
		token       string
		targetsPath string
		timeout     time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "Sync API base URL")
	flag.StringVar(&token, "token", os.Getenv("SYNC_SESSION_TOKEN"), "Session token (defaults to SYNC_SESSION_TOKEN)")
	flag.StringVar(&targetsPath, "targets", "", "Optional JSON targets file")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "HTTP client timeout")
	flag.Parse()

	if token == "" {
		log.Fatal("a session token is required")
	}
	targets := defaultTargets
	if targetsPath != "" {
		loaded, err := loadTargets(targetsPath)
		if err != nil {
			log.Fatalf("failed to load targets: %v", err)
		}
		targets = loaded
	}

	client := &http.Client{Timeout: timeout}
	var (
		checks   []check
		breaking int
		optional int
	)
	for _, t := range targets {
		p := checkTarget(client, base, token, t)
		if !p.ok() {
			if t.Critical {
				breaking++
			} else {
				optional++
			}
		}
		checks = append(checks, p)
	}

	printReport(checks)

	fmt.Printf("Critical failures: %d, Optional failures: %d\n", breaking, optional)
	if breaking > 0 {
		os.Exit(1)
	}
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return cfg.Targets, nil
}

// checkTarget forces a refresh, then reads again and expects the same payload
// served from the cache.
func checkTarget(client *http.Client, base, token string, tgt target) check {
	p := check{Target: tgt}

	refreshed, status, took, err := fetch(client, base, token, withQuery(tgt.Path, "force=true"))
	p.RefreshStatus, p.RefreshTook = status, took
	if err != nil {
		p.Error = fmt.Errorf("refresh request failed: %w", err)
		return p
	}
	cached, status, took, err := fetch(client, base, token, tgt.Path)
	p.CachedStatus, p.CachedTook = status, took
	if err != nil {
		p.Error = fmt.Errorf("cached request failed: %w", err)
		return p
	}

	p.CacheHit = cached.Meta["cache_hit"] == true
	p.Partial = refreshed.Meta["partial"] == true
	p.BodyMatch = bodiesEqual(refreshed.Data, cached.Data)
	return p
}

func fetch(client *http.Client, base, token, path string) (envelope, int, time.Duration, error) {
	var env envelope
	if client == nil {
		return env, 0, 0, errors.New("nil client")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return env, 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return env, 0, 0, err
	}
	defer resp.Body.Close()
	took := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return env, resp.StatusCode, took, fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, resp.StatusCode, took, fmt.Errorf("decode envelope: %w", err)
	}
	return env, resp.StatusCode, took, nil
}

func withQuery(path, query string) string {
	if strings.Contains(path, "?") {
		return path + "&" + query
	}
	return path + "?" + query
}

func bodiesEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}

	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	return reflect.DeepEqual(aj, bj)
}

func printReport(results []check) {
	fmt.Println("Cache Check Report")
	fmt.Println("==================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.ok() {
			status = "FAIL"
		}
		fmt.Printf("[%s] GET %s\n", status, res.Target.Path)
		fmt.Printf("  Refresh: %d (%s)\n", res.RefreshStatus, res.RefreshTook)
		fmt.Printf("  Cached:  %d (%s)\n", res.CachedStatus, res.CachedTook)
		if res.Error != nil {
			fmt.Printf("  Error: %v\n", res.Error)
		} else {
			fmt.Printf("  Cache hit: %t | Body match: %t | Partial: %t | Critical: %t\n", res.CacheHit, res.BodyMatch, res.Partial, res.Target.Critical)
		}
	}
}
