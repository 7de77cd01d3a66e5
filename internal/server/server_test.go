package server

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/sampleflow/internal/gate"
	"github.com/dwsmith1983/sampleflow/internal/metrics"
	"github.com/dwsmith1983/sampleflow/internal/pipeline"
	"github.com/dwsmith1983/sampleflow/internal/runner"
	"github.com/dwsmith1983/sampleflow/internal/server/handlers"
	"github.com/dwsmith1983/sampleflow/internal/testutil"
	"github.com/dwsmith1983/sampleflow/internal/worker"
	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// selfAnalyzer reports the uploaded artifact as its only sample.
type selfAnalyzer struct {
	mu   sync.Mutex
	seen []types.UploadedArtifact
	err  error
}

func (a *selfAnalyzer) Analyze(_ context.Context, artifact types.UploadedArtifact) ([]types.SampleDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, artifact)
	if a.err != nil {
		return nil, a.err
	}
	return []types.SampleDescriptor{{
		Filename: artifact.OriginalName,
		FilePath: artifact.Path,
		Analysis: json.RawMessage(`{"entropy":5.1}`),
	}}, nil
}

func (a *selfAnalyzer) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *selfAnalyzer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}

func (a *selfAnalyzer) last(t *testing.T) types.UploadedArtifact {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.seen)
	return a.seen[len(a.seen)-1]
}

// contentHasher digests file contents so identical uploads collide.
type contentHasher struct{}

func (contentHasher) Hash(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

type stubSubmitter struct {
	err error
}

func (s stubSubmitter) Submit(context.Context, *pipeline.Analysis) (types.Job, error) {
	return types.Job{}, s.err
}

type testEnv struct {
	ts         *httptest.Server
	store      *testutil.MockProvider
	analyzer   *selfAnalyzer
	classifier *testutil.FakeClassifier
	pipe       *pipeline.Pipeline
	uploadDir  string
	plotsDir   string
}

func newTestEnv(t *testing.T, opts Options, sub func(*pipeline.Pipeline, *testutil.MockProvider) handlers.Submitter) *testEnv {
	t.Helper()
	env := &testEnv{
		store:      testutil.NewMockProvider(),
		analyzer:   &selfAnalyzer{},
		classifier: &testutil.FakeClassifier{Result: &types.Predictions{PrimaryLabel: "malware"}},
		uploadDir:  t.TempDir(),
		plotsDir:   t.TempDir(),
	}
	env.pipe = pipeline.New(pipeline.Deps{
		Analyzer:   env.analyzer,
		Hasher:     contentHasher{},
		Store:      env.store,
		Classifier: env.classifier,
	}, gate.New(1, 1<<20), 2)

	opts.UploadDir = env.uploadDir
	opts.PlotsDir = env.plotsDir
	var submitter handlers.Submitter
	if sub != nil {
		submitter = sub(env.pipe, env.store)
	}
	srv := New(opts, env.pipe, submitter, env.store)
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

type form struct {
	filename string
	content  []byte
	fields   map[string]string
	headers  map[string]string
}

func (e *testEnv) upload(t *testing.T, path string, f form) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range f.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if f.filename != "" {
		part, err := mw.CreateFormFile(handlers.FieldFile, f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func sample(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	resp, err := http.Get(env.ts.URL + "/v1/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestUpload_ClassifiesAndCleansUp(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	resp := env.upload(t, "/v1/uploads", form{
		filename: "calc.exe",
		content:  sample(2048),
		fields:   map[string]string{handlers.FieldPassword: "infected", handlers.FieldUserID: "42"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[types.UploadResponse](t, resp)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "calc.exe", out.Results[0].Filename)
	assert.Equal(t, types.SampleAIAnalyzed, out.Results[0].Status)
	require.NotNil(t, out.Results[0].Classification)
	assert.Equal(t, "malware", out.Results[0].Classification.PrimaryLabel)
	assert.Empty(t, out.JobID)

	artifact := env.analyzer.last(t)
	assert.Equal(t, "calc.exe", artifact.OriginalName)
	assert.Equal(t, "infected", artifact.Password)
	assert.Equal(t, "42", artifact.UserID)
	assert.Equal(t, int64(2048), artifact.Size)
	assert.Equal(t, env.uploadDir, filepath.Dir(artifact.Path))
	testutil.AssertRemoved(t, artifact.Path)

	require.NotNil(t, out.Results[0].Digest)
	file, err := env.store.GetFileByDigest(context.Background(), *out.Results[0].Digest)
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "42", file.UserID)
}

func TestUpload_RepeatIsFound(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	content := sample(4096)

	first := env.upload(t, "/v1/uploads", form{filename: "a.bin", content: content})
	require.Equal(t, http.StatusOK, first.StatusCode)
	second := env.upload(t, "/v1/uploads", form{filename: "b.bin", content: content})
	require.Equal(t, http.StatusOK, second.StatusCode)

	out := decode[types.UploadResponse](t, second)
	require.Len(t, out.Results, 1)
	assert.Equal(t, types.SampleFound, out.Results[0].Status)
	assert.NotNil(t, out.Results[0].Report)
	assert.Equal(t, 1, env.classifier.Calls())
}

func TestUpload_UserIdentity(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		header string
		want   string
	}{
		{"anonymous", "", "", types.AnonymousUserID},
		{"form zero", "0", "", types.AnonymousUserID},
		{"form value", "17", "", "17"},
		{"header wins", "17", "99", "99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{}, nil)
			f := form{filename: "x.bin", content: sample(16), fields: map[string]string{}, headers: map[string]string{}}
			if tt.field != "" {
				f.fields[handlers.FieldUserID] = tt.field
			}
			if tt.header != "" {
				f.headers[handlers.HeaderUserID] = tt.header
			}
			resp := env.upload(t, "/v1/uploads", f)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.want, env.analyzer.last(t).UserID)
		})
	}
}

func TestUpload_NoFile(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	resp := env.upload(t, "/v1/uploads", form{fields: map[string]string{handlers.FieldPassword: "x"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file uploaded.", readBody(t, resp))

	plain, err := http.Post(env.ts.URL+"/v1/uploads", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer func() { _ = plain.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, plain.StatusCode)
	assert.Zero(t, env.analyzer.count())
}

func TestUpload_FatalAnalysis(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.analyzer.fail(&runner.Failure{Kind: runner.FailureProcess, Command: "analyze.py", ExitCode: 2, Detail: "bad archive"})

	resp := env.upload(t, "/v1/uploads", form{filename: "bad.exe", content: sample(64)})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "static analysis failed")
	testutil.AssertRemoved(t, env.analyzer.last(t).Path)
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t, Options{MaxUploadBytes: 1024}, nil)

	resp := env.upload(t, "/v1/uploads", form{filename: "big.bin", content: sample(8192)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Zero(t, env.analyzer.count())

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_LegacyRoute(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	resp := env.upload(t, "/upload", form{filename: "calc.exe", content: sample(128)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[types.UploadResponse](t, resp)
	assert.Len(t, out.Results, 1)
}

func TestUpload_RateLimited(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 1}, nil)

	first := env.upload(t, "/v1/uploads", form{filename: "a.bin", content: sample(32)})
	assert.Equal(t, http.StatusOK, first.StatusCode)
	second := env.upload(t, "/upload", form{filename: "b.bin", content: sample(32)})
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestUpload_DeferredDisabled(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	resp := env.upload(t, "/v1/uploads?mode=deferred", form{filename: "a.bin", content: sample(32)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, env.analyzer.count())
}

func TestUpload_Deferred(t *testing.T) {
	env := newTestEnv(t, Options{}, func(p *pipeline.Pipeline, store *testutil.MockProvider) handlers.Submitter {
		w := worker.New(p, store, nil, nil, nil, types.WorkerConfig{Workers: 1, QueueSize: 4})
		w.Start(context.Background())
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			w.Stop(ctx)
		})
		return w
	})

	resp := env.upload(t, "/v1/uploads?mode=deferred", form{filename: "calc.exe", content: sample(512)})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	out := decode[types.UploadResponse](t, resp)
	require.NotEmpty(t, out.JobID)
	require.Len(t, out.Results, 1)
	assert.Equal(t, types.SamplePending, out.Results[0].Status)

	job := testutil.WaitForJobStatus(t, env.store, out.JobID, types.JobCompleted, 5*time.Second)
	require.Len(t, job.Results, 1)
	assert.Equal(t, types.SampleAIAnalyzed, job.Results[0].Status)

	jobResp, err := http.Get(env.ts.URL + "/v1/jobs/" + out.JobID)
	require.NoError(t, err)
	defer func() { _ = jobResp.Body.Close() }()
	require.Equal(t, http.StatusOK, jobResp.StatusCode)
	polled := decode[types.Job](t, jobResp)
	assert.Equal(t, types.JobCompleted, polled.Status)

	path := env.analyzer.last(t).Path
	testutil.WaitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, "artifact removal")
}

func TestUpload_DeferredQueueFull(t *testing.T) {
	env := newTestEnv(t, Options{}, func(*pipeline.Pipeline, *testutil.MockProvider) handlers.Submitter {
		return stubSubmitter{err: worker.ErrQueueFull}
	})

	resp := env.upload(t, "/v1/uploads?mode=deferred", form{filename: "a.bin", content: sample(32)})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	testutil.AssertRemoved(t, env.analyzer.last(t).Path)
}

func TestUpload_DeferredSubmitError(t *testing.T) {
	env := newTestEnv(t, Options{}, func(*pipeline.Pipeline, *testutil.MockProvider) handlers.Submitter {
		return stubSubmitter{err: errors.New("store down")}
	})

	resp := env.upload(t, "/v1/uploads?mode=deferred", form{filename: "a.bin", content: sample(32)})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	testutil.AssertRemoved(t, env.analyzer.last(t).Path)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	resp, err := http.Get(env.ts.URL + "/v1/jobs/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetFile(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.store.Seed(
		types.FileRecord{ID: "f1", Name: "calc.exe", Digest: "abc", Status: types.FileAnalyzed, UserID: "7"},
		&types.AnalysisReport{ID: "r1", FileID: "f1", Predictions: types.Predictions{PrimaryLabel: "benign"}},
	)

	resp, err := http.Get(env.ts.URL + "/v1/files/abc")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[types.FileLookup](t, resp)
	require.NotNil(t, got.File)
	assert.Equal(t, "f1", got.File.ID)
	require.NotNil(t, got.Report)
	assert.Equal(t, "benign", got.Report.Predictions.PrimaryLabel)

	missing, err := http.Get(env.ts.URL + "/v1/files/nope")
	require.NoError(t, err)
	defer func() { _ = missing.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestGetFile_UppercaseDigest(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.store.Seed(types.FileRecord{ID: "f1", Name: "calc.exe", Digest: "d41d8cd98f00b204e9800998ecf8427e"}, nil)

	resp, err := http.Get(env.ts.URL + "/v1/files/D41D8CD98F00B204E9800998ECF8427E")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[types.FileLookup](t, resp)
	require.NotNil(t, got.File)
	assert.Equal(t, "f1", got.File.ID)
}

func TestGetFile_LookupError(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	env.store.SetLookupError(errors.New("connection refused"))

	resp, err := http.Get(env.ts.URL + "/v1/files/abc")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "failed to look up digest", body["error"])
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t, Options{APIKey: "secret"}, nil)

	resp, err := http.Get(env.ts.URL + "/v1/jobs/x")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/jobs/x", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(env.ts.URL + "/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	upload := env.upload(t, "/v1/uploads", form{filename: "a.bin", content: sample(8)})
	assert.Equal(t, http.StatusUnauthorized, upload.StatusCode)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, Options{CORSOrigins: []string{"https://ui.example.com"}}, nil)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "https://ui.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightAllowsBearer(t *testing.T) {
	env := newTestEnv(t, Options{APIKey: "secret", CORSOrigins: []string{"https://ui.example.com"}}, nil)

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/v1/uploads", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "https://ui.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(resp.Header.Get("Access-Control-Allow-Headers")), "authorization")
}

func TestPlotsServed(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.plotsDir, "calc.exe_overall_entropy.png"), []byte("png"), 0o644))

	resp, err := http.Get(env.ts.URL + "/plots/calc.exe_overall_entropy.png")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "png", readBody(t, resp))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewProm("sampleflow", reg)
	env := newTestEnv(t, Options{Metrics: rec, Gatherer: reg}, nil)

	health, err := http.Get(env.ts.URL + "/v1/health")
	require.NoError(t, err)
	_ = health.Body.Close()

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "sampleflow_http_requests_total")
	assert.Contains(t, body, `route="/v1/health"`)
}

func TestServer_StopBeforeAndAfterStart(t *testing.T) {
	store := testutil.NewMockProvider()
	pipe := pipeline.New(pipeline.Deps{
		Analyzer:   &selfAnalyzer{},
		Hasher:     contentHasher{},
		Store:      store,
		Classifier: &testutil.FakeClassifier{},
	}, gate.New(0, 0), 1)
	srv := New(Options{Addr: "127.0.0.1:0", UploadDir: t.TempDir()}, pipe, nil, store)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestAPIKeyAuth_BearerAndPlots(t *testing.T) {
	env := newTestEnv(t, Options{APIKey: "secret"}, nil)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/jobs/x", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequestID_Propagated(t *testing.T) {
	env := newTestEnv(t, Options{}, nil)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-me")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "trace-me", resp.Header.Get("X-Request-ID"))
}
