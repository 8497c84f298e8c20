package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/webjudge/agent/evaluation"
	"github.com/BaSui01/webjudge/config"
	"github.com/BaSui01/webjudge/llm/providers"
	"github.com/BaSui01/webjudge/testutil"
	"github.com/BaSui01/webjudge/testutil/fixtures"
	"github.com/BaSui01/webjudge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReasoningServer 模拟 OpenAI 兼容接口，按系统提示词路由回复
func fakeReasoningServer(t *testing.T, verdict string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		system, _ := body.Messages[0]["content"].(string)

		var content string
		switch system {
		case evaluation.KeyPointSystemPrompt:
			content = fixtures.KeyPointsResponse("Find a shirt", "Shirt is blue")
		case evaluation.JudgeSystemPrompt:
			content = fixtures.JudgeResponse("blue shirt visible", 5)
		default:
			content = fixtures.VerdictResponse("done", verdict)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID:    "chatcmpl-test",
			Model: "gpt-4o",
			Choices: []providers.OpenAICompatChoice{{
				FinishReason: "stop",
				Message:      providers.OpenAICompatResponseMessage{Role: "assistant", Content: content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func setTestEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WEBJUDGE_LLM_BASE_URL", baseURL)
	t.Setenv("WEBJUDGE_LOG_LEVEL", "error")
	t.Setenv("WEBJUDGE_CACHE_ENABLED", "false")
	t.Setenv("WEBJUDGE_DATABASE_ENABLED", "false")
	t.Setenv("WEBJUDGE_TELEMETRY_ENABLED", "false")
}

func writeInput(t *testing.T, v any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte(testutil.MustJSON(v)), 0o600))
	return path
}

func sampleRequest(id string) evaluation.EvaluationRequest {
	return evaluation.EvaluationRequest{
		TaskID:          id,
		TaskDescription: "Add a blue shirt to the cart",
		ActionHistory:   []string{"click shirts", "add to cart"},
		Screenshots:     fixtures.Screenshots(2),
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "WebJudge "+Version)
	assert.Contains(t, out, "Git Commit:")
}

func TestEvaluateCommand_Success(t *testing.T) {
	srv, calls := fakeReasoningServer(t, "success")
	setTestEnv(t, srv.URL)

	out, err := runCommand(t, "evaluate", "--input", writeInput(t, sampleRequest("cli-1")))
	require.NoError(t, err)

	var result evaluation.EvaluationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "cli-1", result.TaskID)
	assert.True(t, result.Success())
	// 1 次要点提取 + 2 次截图评分 + 1 次最终判定
	assert.Equal(t, int32(4), calls.Load())
}

func TestEvaluateCommand_StrictFailure(t *testing.T) {
	srv, _ := fakeReasoningServer(t, "failure")
	setTestEnv(t, srv.URL)

	input := writeInput(t, sampleRequest("cli-2"))

	_, err := runCommand(t, "evaluate", "--input", input)
	require.NoError(t, err, "non-strict mode reports failure in the output only")

	_, err = runCommand(t, "evaluate", "--input", input, "--strict")
	var failed *TaskFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 1, failed.Failed)
	assert.Equal(t, 1, failed.Total)
}

func TestEvaluateCommand_OutputFile(t *testing.T) {
	srv, _ := fakeReasoningServer(t, "success")
	setTestEnv(t, srv.URL)

	outPath := filepath.Join(t.TempDir(), "result.json")
	out, err := runCommand(t, "evaluate", "--input", writeInput(t, sampleRequest("cli-3")), "--output", outPath)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task_id": "cli-3"`)
}

func TestEvaluateCommand_Errors(t *testing.T) {
	t.Run("missing input flag", func(t *testing.T) {
		_, err := runCommand(t, "evaluate")
		require.Error(t, err)
	})

	t.Run("unreadable input", func(t *testing.T) {
		_, err := runCommand(t, "evaluate", "--input", filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read input")
	})

	t.Run("missing api key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("WEBJUDGE_LLM_API_KEY", "")
		_, err := runCommand(t, "evaluate", "--input", writeInput(t, sampleRequest("x")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api key")
	})

	t.Run("empty screenshots", func(t *testing.T) {
		srv, _ := fakeReasoningServer(t, "success")
		setTestEnv(t, srv.URL)
		req := sampleRequest("x")
		req.Screenshots = nil
		_, err := runCommand(t, "evaluate", "--input", writeInput(t, req))
		require.Error(t, err)
	})
}

func TestEvaluateCommand_ReferenceImages(t *testing.T) {
	srv, calls := fakeReasoningServer(t, "success")
	setTestEnv(t, srv.URL)

	req := sampleRequest("cli-ref")
	req.InputImagePaths = []string{"ref.png"}
	input := writeInput(t, req)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(input), "ref.png"), fixtures.ScreenshotPNG(color.White), 0o600))

	_, err := runCommand(t, "evaluate", "--input", input)
	require.NoError(t, err, "paths resolve against the input file directory")

	before := calls.Load()
	req.InputImagePaths = []string{"/etc/passwd"}
	_, err = runCommand(t, "evaluate", "--input", writeInput(t, req))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest), "%v", err)
	assert.Equal(t, before, calls.Load())
}

func TestBatchCommand(t *testing.T) {
	srv, _ := fakeReasoningServer(t, "success")
	setTestEnv(t, srv.URL)

	reqs := []evaluation.EvaluationRequest{sampleRequest("b-1"), sampleRequest("b-2"), sampleRequest("b-3")}
	bad := sampleRequest("b-bad")
	bad.Screenshots = nil
	reqs = append(reqs, bad)

	out, err := runCommand(t, "batch", "--input", writeInput(t, reqs), "--workers", "2")
	require.NoError(t, err)

	var report struct {
		Summary evaluation.BatchSummary `json:"summary"`
		Items   []json.RawMessage       `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 4, report.Summary.Total)
	assert.Equal(t, 3, report.Summary.Succeeded)
	assert.Equal(t, 1, report.Summary.Errored)
	require.Len(t, report.Items, 4)
	assert.Contains(t, string(report.Items[0]), "b-1")
	assert.Contains(t, string(report.Items[3]), "b-bad")

	_, err = runCommand(t, "batch", "--input", writeInput(t, reqs), "--strict")
	var failed *TaskFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 1, failed.Failed)
	assert.Equal(t, 4, failed.Total)
}

func TestRedirectStdout(t *testing.T) {
	assert.Equal(t, []string{"stderr"}, redirectStdout(nil))
	assert.Equal(t, []string{"stderr", "/var/log/x.log"}, redirectStdout([]string{"stdout", "/var/log/x.log"}))
}

func TestLoadConfig_LogLevelOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := loadConfig(&rootOptions{logLevel: "debug"}, true)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplicationRoutes(t *testing.T) {
	srv, _ := fakeReasoningServer(t, "success")

	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.BaseURL = srv.URL
	cfg.Cache.Enabled = false
	cfg.Database.Enabled = false
	cfg.Telemetry.Enabled = false
	cfg.Server.RateLimitRPS = 0

	app, err := newApplication(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	handler, err := app.routes(ctx)
	require.NoError(t, err)

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("evaluate", func(t *testing.T) {
		body := testutil.MustJSON(sampleRequest("route-1"))
		r := httptest.NewRequest(http.MethodPost, "/v1/runs/evaluate_task", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"task_id":"route-1"`)
	})

	t.Run("reference paths disabled", func(t *testing.T) {
		req := sampleRequest("route-2")
		req.InputImagePaths = []string{"/etc/hostname"}
		r := httptest.NewRequest(http.MethodPost, "/v1/runs/evaluate_task", strings.NewReader(testutil.MustJSON(req)))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
	})

	t.Run("stored result without store", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/route-1/evaluation", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "webjudge_http_requests_total")
	})
}

func TestApplication_ResultStoreMetrics(t *testing.T) {
	srv, _ := fakeReasoningServer(t, "success")

	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.BaseURL = srv.URL
	cfg.Cache.Enabled = false
	cfg.Telemetry.Enabled = false
	cfg.Server.RateLimitRPS = 0
	cfg.Database.Enabled = true
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "results.db")

	app, err := newApplication(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	require.NotNil(t, app.store)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	handler, err := app.routes(ctx)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/v1/runs/evaluate_task", strings.NewReader(testutil.MustJSON(sampleRequest("db-1"))))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/db-1/evaluation", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.Contains(t, body, `go_sql_open_connections{db_name="results"}`)
	assert.Contains(t, body, "webjudge_db_query_duration_seconds")
}
