// Package main implements a mock LLM server for offline runs and e2e tests.
// It serves OpenAI-compatible chat completions from fixture files so the
// storechat services can run without a real model.
//
// Usage:
//
//	mock-llm --fixtures /path/to/fixtures --listen :11434
//
// Every storechat service talks to one model, so fixtures are keyed by
// pipeline stage rather than by model: the stage is read from the system
// prompt (classify, analyze, format, products, general). A fixture named
// after the requested model (minus any "mock-" prefix) takes precedence.
//
// Fixture files are "<stage>.json" (validated JSON) or "<stage>.txt" (prose).
// Numbered files ("classify.1.json", "classify.2.json") are served in order
// on successive calls, then the base file repeats. Without --fixtures the
// embedded defaults are served.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/storechat/httpapi"
)

//go:embed fixtures
var embeddedFixtures embed.FS

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// stageMarkers identify the pipeline stage from a phrase of its system prompt.
var stageMarkers = []struct {
	stage  string
	marker string
}{
	{"classify", "PRODUCT_QUERY|ORDER_QUERY|GENERAL_QUERY"},
	{"analyze", "determine which API endpoint to call"},
	{"format", "Turn the order data below"},
	{"products", "answers product-related questions"},
	{"general", "Answer general questions"},
}

// detectStage returns the stage whose marker appears in the system prompt.
func detectStage(messages []chatMessage) string {
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		for _, sm := range stageMarkers {
			if strings.Contains(m.Content, sm.marker) {
				return sm.stage
			}
		}
	}
	return ""
}

// --- Server ---

// capturedRequest stores the key fields of a request for test verification.
type capturedRequest struct {
	Model     string        `json:"model"`
	Stage     string        `json:"stage"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-indexed per-stage call number
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures map[string][]string // stage → ordered fixture contents
	calls    atomic.Int64

	stageCalls   map[string]*atomic.Int64
	stageCallsMu sync.Mutex

	stageRequests   map[string][]capturedRequest
	stageRequestsMu sync.Mutex

	logger *slog.Logger
}

func newServer(fixtures map[string][]string, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures:      fixtures,
		stageCalls:    make(map[string]*atomic.Int64),
		stageRequests: make(map[string][]capturedRequest),
		logger:        logger,
	}
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		fixtureDir string
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:          "mock-llm",
		Short:        "Mock OpenAI-compatible model server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixtureDir == "" {
				fixtureDir = os.Getenv("MOCK_LLM_FIXTURES")
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			slog.SetDefault(logger)

			var fsys fs.FS
			if fixtureDir != "" {
				fsys = os.DirFS(fixtureDir)
			} else {
				sub, err := fs.Sub(embeddedFixtures, "fixtures")
				if err != nil {
					return err
				}
				fsys = sub
			}

			fixtures, err := loadFixtures(fsys)
			if err != nil {
				return fmt.Errorf("load fixtures from %q: %w", fixtureDir, err)
			}
			for stage, seq := range fixtures {
				logger.Info("Loaded fixtures", "stage", stage, "count", len(seq))
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			s := newServer(fixtures, logger)
			return httpapi.Serve(ctx, listenAddr, httpapi.Stack(s.routes(), logger, nil, nil), logger)
		},
	}

	cmd.Flags().StringVar(&fixtureDir, "fixtures", "", "Directory of fixture files (default: embedded fixtures)")
	cmd.Flags().StringVar(&listenAddr, "listen", ":11434", "Listen address")
	return cmd
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	mux.HandleFunc("GET /health", httpapi.HealthHandler("mock-llm"))
	return mux
}

// resolve picks the fixture key: the model name, then the detected stage.
func (s *server) resolve(req chatRequest) (string, bool) {
	for _, key := range []string{req.Model, strings.TrimPrefix(req.Model, "mock-")} {
		if _, ok := s.fixtures[key]; ok && key != "" {
			return key, true
		}
	}
	stage := detectStage(req.Messages)
	if _, ok := s.fixtures[stage]; ok {
		return stage, true
	}
	return stage, false
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	callNum := s.calls.Add(1)
	key, ok := s.resolve(req)
	if !ok {
		s.logger.Warn("No fixture for request", "call", callNum, "model", req.Model, "stage", key)
		httpapi.WriteError(w, http.StatusNotFound, fmt.Sprintf("no fixture for model %q (stage %q)", req.Model, key))
		return
	}

	seq := s.fixtures[key]
	callIndex := int(s.stageCounter(key).Add(1) - 1)
	s.captureRequest(key, req, callIndex+1)

	content := seq[min(callIndex, len(seq)-1)]
	s.logger.Debug("Serving fixture", "call", callNum, "stage", key, "index", callIndex+1, "of", len(seq))

	httpapi.WriteJSON(w, http.StatusOK, chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(content) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(content) / 2,
		},
	})
}

func (s *server) stageCounter(stage string) *atomic.Int64 {
	s.stageCallsMu.Lock()
	defer s.stageCallsMu.Unlock()
	if c, ok := s.stageCalls[stage]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.stageCalls[stage] = c
	return c
}

func (s *server) captureRequest(stage string, req chatRequest, callIndex int) {
	s.stageRequestsMu.Lock()
	defer s.stageRequestsMu.Unlock()
	s.stageRequests[stage] = append(s.stageRequests[stage], capturedRequest{
		Model:     req.Model,
		Stage:     stage,
		Messages:  req.Messages,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleModels lists the fixture keys as models.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	models := make([]modelEntry, 0, len(s.fixtures))
	for name := range s.fixtures {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"object": "list", "data": models})
}

// handleStats returns total_calls and the calls_by_stage breakdown.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.stageCallsMu.Lock()
	byStage := make(map[string]int64, len(s.stageCalls))
	for stage, counter := range s.stageCalls {
		byStage[stage] = counter.Load()
	}
	s.stageCallsMu.Unlock()

	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_stage": byStage,
	})
}

// handleRequests returns captured requests, optionally filtered by stage and
// by 1-indexed call number.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	stageFilter := r.URL.Query().Get("stage")
	callFilter, callErr := strconv.Atoi(r.URL.Query().Get("call"))

	s.stageRequestsMu.Lock()
	result := make(map[string][]capturedRequest)
	for stage, reqs := range s.stageRequests {
		if stageFilter != "" && stage != stageFilter {
			continue
		}
		for _, req := range reqs {
			if callErr == nil && req.CallIndex != callFilter {
				continue
			}
			result[stage] = append(result[stage], req)
		}
	}
	s.stageRequestsMu.Unlock()

	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"requests_by_stage": result})
}

// numberedFileRe matches files like "classify.1.json" or "format.2.txt".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.(json|txt)$`)

// loadFixtures reads the top level of fsys into stage → content sequence:
// numbered files in numeric order, then the base file as the repeating
// fallback.
func loadFixtures(fsys fs.FS) (map[string][]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	baseFiles := make(map[string]string)
	numberedFiles := make(map[string]map[int]string)

	for _, entry := range entries {
		name := entry.Name()
		ext := path.Ext(name)
		if entry.IsDir() || (ext != ".json" && ext != ".txt") {
			continue
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if ext == ".json" && !json.Valid(data) {
			return nil, fmt.Errorf("invalid JSON in %s", name)
		}
		content := strings.TrimSpace(string(data))

		if m := numberedFileRe.FindStringSubmatch(name); m != nil {
			index, _ := strconv.Atoi(m[2])
			if numberedFiles[m[1]] == nil {
				numberedFiles[m[1]] = make(map[int]string)
			}
			numberedFiles[m[1]][index] = content
			continue
		}
		baseFiles[strings.TrimSuffix(name, ext)] = content
	}

	fixtures := make(map[string][]string)
	for stage, numbered := range numberedFiles {
		indices := make([]int, 0, len(numbered))
		for idx := range numbered {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			fixtures[stage] = append(fixtures[stage], numbered[idx])
		}
	}
	for stage, content := range baseFiles {
		fixtures[stage] = append(fixtures[stage], content)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found")
	}
	return fixtures, nil
}
