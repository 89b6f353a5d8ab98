package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"
)

// Config controls a synthetic traffic run against a live instance.
type Config struct {
	BaseURL     string
	Profile     string // "mixed", "auth", "health"
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
}

type target struct {
	method string
	path   string
	body   string
}

// Run drives requests at roughly cfg.RPS for cfg.Duration and returns
// aggregate counts. Responses are not asserted; a failure is a transport
// error or a 5xx.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("loadgen: base URL is required")
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	targets := profileTargets(normalizeProfile(cfg.Profile))

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var mu sync.Mutex
	res := &Result{StatusClasses: map[string]int{}}
	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(cfg.RPS)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.Concurrency; i++ {
		seed := cfg.Seed + int64(i)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			ticker := time.NewTicker(interval * time.Duration(cfg.Concurrency))
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
				tgt := targets[rng.Intn(len(targets))]
				class, failed := fire(gctx, client, cfg.BaseURL, tgt)
				mu.Lock()
				res.TotalRequests++
				res.StatusClasses[class]++
				if failed {
					res.Failures++
				}
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func fire(ctx context.Context, client *http.Client, baseURL string, tgt target) (string, bool) {
	var body *bytes.Reader
	if tgt.body != "" {
		body = bytes.NewReader([]byte(tgt.body))
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, tgt.method, strings.TrimRight(baseURL, "/")+tgt.path, body)
	if err != nil {
		return "other", true
	}
	if tgt.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return "other", true
	}
	_ = resp.Body.Close()
	class := classifyStatusClass(resp.StatusCode)
	return class, class == "5xx"
}

func profileTargets(profile string) []target {
	auth := []target{
		{http.MethodPost, "/api/v1/auth/login", `{"email":"loadgen@example.com","password":"not-a-real-password"}`},
		{http.MethodPost, "/api/v1/auth/password/forgot", `{"email":"loadgen@example.com"}`},
		{http.MethodGet, "/api/v1/me", ""},
	}
	healthTargets := []target{
		{http.MethodGet, "/health/live", ""},
		{http.MethodGet, "/health/ready", ""},
	}
	switch profile {
	case "auth":
		return auth
	case "health":
		return healthTargets
	default:
		return append(append([]target{}, auth...), healthTargets...)
	}
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "auth", "health", "mixed":
		return p
	case "":
		return "mixed"
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	summaryKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	summaryBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// RenderSummary formats a run result for terminal output.
func RenderSummary(cfg Config, res *Result) string {
	var b strings.Builder
	b.WriteString(summaryTitleStyle.Render("loadgen summary"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s\n", summaryKeyStyle.Render("profile:"), normalizeProfile(cfg.Profile)))
	b.WriteString(fmt.Sprintf("%s %d\n", summaryKeyStyle.Render("requests:"), res.TotalRequests))
	failures := fmt.Sprintf("%d", res.Failures)
	if res.Failures > 0 {
		failures = summaryBadStyle.Render(failures)
	}
	b.WriteString(fmt.Sprintf("%s %s\n", summaryKeyStyle.Render("failures:"), failures))

	classes := make([]string, 0, len(res.StatusClasses))
	for class := range res.StatusClasses {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		b.WriteString(fmt.Sprintf("%s %d\n", summaryKeyStyle.Render(class+":"), res.StatusClasses[class]))
	}
	return b.String()
}
