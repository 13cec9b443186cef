package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biodata-screener/internal/adapter/cleanup"
	"github.com/fairyhunter13/biodata-screener/internal/domain"
	"github.com/fairyhunter13/biodata-screener/internal/domain/mocks"
	"github.com/fairyhunter13/biodata-screener/internal/prompt"
	"github.com/fairyhunter13/biodata-screener/internal/usecase"
)

// fileExtractor treats the uploaded bytes as the document text; an empty
// file behaves like a scanned image.
type fileExtractor struct{}

func (fileExtractor) Extract(_ context.Context, path string) (domain.ExtractedText, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.ExtractedText{}, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return domain.ExtractedText{}, fmt.Errorf("%w: no text layer", domain.ErrExtractionFailed)
	}
	return domain.ExtractedText{Text: string(b), Strategy: "fake"}, nil
}

// gatewayFunc adapts a function to domain.Gateway.
type gatewayFunc func(ctx context.Context, req domain.CompletionRequest) (string, error)

func (f gatewayFunc) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	return f(ctx, req)
}

func newService(t *testing.T, gw domain.Gateway, cl domain.CleanupScheduler) (*usecase.ScreenService, string) {
	t.Helper()
	work := t.TempDir()
	svc := usecase.NewScreenService(fileExtractor{}, gw, prompt.MustDefault(), cl, usecase.ScreenConfig{
		WorkDir:      work,
		MaxWorkers:   4,
		CleanupDelay: 1000 * time.Second,
		DefaultModel: "mistral",
		Sampling:     domain.SamplingOptions{Temperature: 0.1, MaxTokens: 512},
	})
	return svc, work
}

func noopCleanup(t *testing.T) *mocks.MockCleanupScheduler {
	cl := mocks.NewMockCleanupScheduler(t)
	cl.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return cl
}

func TestProcessBatch_EndToEndScenario(t *testing.T) {
	gw := gatewayFunc(func(_ context.Context, req domain.CompletionRequest) (string, error) {
		assert.Equal(t, domain.OpExtraction, req.Operation)
		switch {
		case strings.Contains(req.Prompt, "Ravi Kumar"):
			return "```json\n{\"department\": \"Mechanical Engg\"}\n```", nil
		case strings.Contains(req.Prompt, "Meena Iyer"):
			return `{"department": "electrical"}`, nil
		}
		return "", errors.New("unexpected prompt")
	})
	svc, _ := newService(t, gw, noopCleanup(t))

	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{
			{Filename: "ravi.pdf", Content: []byte("Name: Ravi Kumar\nDepartment: Mechanical Engg")},
			{Filename: "scan.pdf", Content: nil},
			{Filename: "meena.pdf", Content: []byte("Name: Meena Iyer\nDepartment: Electrical")},
		},
		Criteria: domain.Criteria{"department": "mechanical"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.ProcessedFiles)
	assert.Equal(t, 1, res.MatchedFiles)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "ravi.pdf", res.Matches[0].Filename)
	assert.Equal(t, "/api/download/"+res.BatchID+"/ravi.pdf/", res.Matches[0].URL)
	assert.Equal(t, "mistral", res.Model)

	counts := res.CountByVerdict()
	assert.Equal(t, 1, counts[domain.VerdictMatched])
	assert.Equal(t, 1, counts[domain.VerdictExtractionFailed])
	assert.Equal(t, 1, counts[domain.VerdictRejectedCriteria])
}

func TestProcessBatch_OneVerdictPerDocument(t *testing.T) {
	gw := mocks.NewMockGateway(t)
	gw.On("Complete", mock.Anything, mock.MatchedBy(func(r domain.CompletionRequest) bool {
		return r.Operation == domain.OpCondition && strings.Contains(r.Prompt, "accept-me")
	})).Return("The document qualifies.\nFINAL ANSWER: YES", nil)
	gw.On("Complete", mock.Anything, mock.MatchedBy(func(r domain.CompletionRequest) bool {
		return r.Operation == domain.OpCondition && strings.Contains(r.Prompt, "reject-me")
	})).Return("It says YES somewhere but\nFINAL ANSWER: NO", nil)
	gw.On("Complete", mock.Anything, mock.MatchedBy(func(r domain.CompletionRequest) bool {
		return r.Operation == domain.OpCondition && strings.Contains(r.Prompt, "boom")
	})).Return("", fmt.Errorf("%w: connection refused", domain.ErrUpstreamUnavailable))

	svc, _ := newService(t, gw, noopCleanup(t))
	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{
			{Filename: "a.pdf", Content: []byte("accept-me")},
			{Filename: "b.pdf", Content: []byte("reject-me")},
			{Filename: "c.pdf", Content: []byte("boom")},
		},
		Condition: "must be an engineer",
		Model:     "phi3:mini",
	})
	require.NoError(t, err)
	require.Len(t, res.Verdicts, 3)

	byName := map[string]domain.DocumentVerdict{}
	for _, v := range res.Verdicts {
		_, dup := byName[v.Filename]
		require.False(t, dup, "duplicate verdict for %s", v.Filename)
		byName[v.Filename] = v
	}
	assert.Equal(t, domain.VerdictMatched, byName["a.pdf"].Verdict)
	assert.Equal(t, domain.VerdictRejectedCondition, byName["b.pdf"].Verdict)
	assert.Equal(t, domain.VerdictExtractionFailed, byName["c.pdf"].Verdict)
	assert.Contains(t, byName["c.pdf"].Reason, "connection refused")
	assert.Equal(t, "phi3:mini", res.Model)
	assert.Equal(t, res.ProcessedFiles, len(res.Verdicts))
	assert.Equal(t, res.MatchedFiles, len(res.Matches))
}

func TestProcessBatch_ConditionThenCriteria(t *testing.T) {
	var ops []string
	var mu sync.Mutex
	gw := gatewayFunc(func(_ context.Context, req domain.CompletionRequest) (string, error) {
		mu.Lock()
		ops = append(ops, req.Operation)
		mu.Unlock()
		if req.Operation == domain.OpCondition {
			return "FINAL ANSWER: YES", nil
		}
		assert.Contains(t, req.Prompt, `"dateofbirth"`)
		return `Sure! {"dateOfBirth": "12/05/1980", "name": null}`, nil
	})
	svc, _ := newService(t, gw, noopCleanup(t))
	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files:     []domain.UploadFile{{Filename: "x.pdf", Content: []byte("Date of Birth: 12/05/1980")}},
		Condition: "born before 1990",
		Criteria:  domain.Criteria{"dateofbirth": "12.05.1980"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{domain.OpCondition, domain.OpExtraction}, ops)
	assert.Equal(t, 1, res.MatchedFiles)
}

func TestProcessBatch_NoChecksMatchesEverything(t *testing.T) {
	gw := mocks.NewMockGateway(t)
	svc, _ := newService(t, gw, noopCleanup(t))
	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{{Filename: "x.pdf", Content: []byte("text")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.MatchedFiles)
	gw.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestProcessBatch_UnparseableExtraction(t *testing.T) {
	gw := gatewayFunc(func(context.Context, domain.CompletionRequest) (string, error) {
		return "I could not find any fields.", nil
	})
	svc, _ := newService(t, gw, noopCleanup(t))
	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files:    []domain.UploadFile{{Filename: "x.pdf", Content: []byte("text")}},
		Criteria: domain.Criteria{"name": "x"},
	})
	require.NoError(t, err)
	require.Len(t, res.Verdicts, 1)
	assert.Equal(t, domain.VerdictExtractionFailed, res.Verdicts[0].Verdict)
	assert.Empty(t, res.Matches)
}

func TestProcessBatch_PanicBecomesExtractionFailed(t *testing.T) {
	gw := gatewayFunc(func(_ context.Context, req domain.CompletionRequest) (string, error) {
		if strings.Contains(req.Prompt, "explode") {
			panic("bad state")
		}
		return "FINAL ANSWER: YES", nil
	})
	svc, _ := newService(t, gw, noopCleanup(t))
	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{
			{Filename: "ok.pdf", Content: []byte("fine")},
			{Filename: "bad.pdf", Content: []byte("explode")},
		},
		Condition: "anything",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedFiles)
	assert.Equal(t, 1, res.MatchedFiles)
	for _, v := range res.Verdicts {
		if v.Filename == "bad.pdf" {
			assert.Equal(t, domain.VerdictExtractionFailed, v.Verdict)
			assert.Contains(t, v.Reason, "bad state")
		}
	}
}

func TestProcessBatch_BoundedConcurrency(t *testing.T) {
	var inflight, peak int32
	gw := gatewayFunc(func(context.Context, domain.CompletionRequest) (string, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return "FINAL ANSWER: YES", nil
	})
	svc, _ := newService(t, gw, noopCleanup(t))
	svc.Cfg.MaxWorkers = 3

	files := make([]domain.UploadFile, 10)
	for i := range files {
		files[i] = domain.UploadFile{Filename: fmt.Sprintf("doc%d.pdf", i), Content: []byte("text")}
	}
	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{Files: files, Condition: "c"})
	require.NoError(t, err)
	assert.Equal(t, 10, res.MatchedFiles)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestProcessBatch_DeferredDeletion(t *testing.T) {
	gw := gatewayFunc(func(context.Context, domain.CompletionRequest) (string, error) {
		return "FINAL ANSWER: YES", nil
	})
	timers := cleanup.NewTimerScheduler()
	t.Cleanup(func() { timers.Close(context.Background(), false) })
	svc, work := newService(t, gw, timers)
	svc.Cfg.CleanupDelay = 150 * time.Millisecond

	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{
			{Filename: "a.pdf", Content: []byte("one")},
			{Filename: "b.pdf", Content: []byte("two")},
		},
		Condition: "c",
	})
	require.NoError(t, err)

	batchDir := filepath.Join(work, res.BatchID)
	assert.FileExists(t, filepath.Join(batchDir, "a.pdf"))
	assert.FileExists(t, filepath.Join(batchDir, "b.pdf"))
	assert.Equal(t, 1, timers.Pending())

	assert.Eventually(t, func() bool {
		_, err := os.Stat(batchDir)
		return os.IsNotExist(err)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestProcessBatch_SchedulesAllPathsWithDelay(t *testing.T) {
	gw := gatewayFunc(func(context.Context, domain.CompletionRequest) (string, error) { return "", nil })
	cl := mocks.NewMockCleanupScheduler(t)
	var scheduled []string
	cl.On("Schedule", mock.Anything, mock.Anything, 1000*time.Second).
		Run(func(args mock.Arguments) { scheduled = args.Get(1).([]string) }).
		Return(errors.New("redis down"))
	svc, work := newService(t, gw, cl)

	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{{Filename: "a.pdf", Content: []byte("x")}, {Filename: "a.pdf", Content: []byte("y")}},
	})
	require.NoError(t, err, "a scheduling failure never fails the batch")
	dir := filepath.Join(work, res.BatchID)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "a_1.pdf"), dir}, scheduled)
}

func TestProcessBatch_FallbackCleanupWhenSchedulerFails(t *testing.T) {
	gw := gatewayFunc(func(context.Context, domain.CompletionRequest) (string, error) { return "FINAL ANSWER: YES", nil })
	cl := mocks.NewMockCleanupScheduler(t)
	cl.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))
	timers := cleanup.NewTimerScheduler()
	t.Cleanup(func() { timers.Close(context.Background(), false) })

	svc, work := newService(t, gw, cl)
	svc.Fallback = timers
	svc.Cfg.CleanupDelay = 150 * time.Millisecond

	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files:     []domain.UploadFile{{Filename: "a.pdf", Content: []byte("one")}},
		Condition: "c",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.MatchedFiles)

	batchDir := filepath.Join(work, res.BatchID)
	assert.Equal(t, 1, timers.Pending())
	assert.Eventually(t, func() bool {
		_, err := os.Stat(batchDir)
		return os.IsNotExist(err)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestProcessBatch_StampsDoneMarker(t *testing.T) {
	gw := gatewayFunc(func(context.Context, domain.CompletionRequest) (string, error) { return "", nil })
	svc, work := newService(t, gw, noopCleanup(t))

	before := time.Now().Add(-time.Second)
	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{
			{Filename: "a.pdf", Content: []byte("x")},
			{Filename: domain.BatchDoneMarker, Content: []byte("y")},
		},
	})
	require.NoError(t, err)

	dir := filepath.Join(work, res.BatchID)
	fi, err := os.Stat(filepath.Join(dir, domain.BatchDoneMarker))
	require.NoError(t, err)
	assert.Zero(t, fi.Size(), "an upload never takes the marker's name")
	assert.True(t, fi.ModTime().After(before))
	assert.FileExists(t, filepath.Join(dir, "_1"+domain.BatchDoneMarker))
}

func TestScreenConfig_WorkerCap(t *testing.T) {
	cfg := usecase.ScreenConfig{MaxWorkers: 4}
	assert.Equal(t, 1, cfg.WorkerCap(1))
	assert.Equal(t, 3, cfg.WorkerCap(3))
	assert.Equal(t, 4, cfg.WorkerCap(10))
	assert.Equal(t, 1, usecase.ScreenConfig{}.WorkerCap(5))
}

func TestProcessBatch_ZeroWorkersStillRuns(t *testing.T) {
	gw := gatewayFunc(func(context.Context, domain.CompletionRequest) (string, error) { return "FINAL ANSWER: YES", nil })
	svc := &usecase.ScreenService{
		Extractor: fileExtractor{},
		Gateway:   gw,
		Prompts:   prompt.MustDefault(),
		Cfg:       usecase.ScreenConfig{WorkDir: t.TempDir(), DefaultModel: "mistral"},
	}
	res, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files:     []domain.UploadFile{{Filename: "a.pdf", Content: []byte("x")}, {Filename: "b.pdf", Content: []byte("y")}},
		Condition: "c",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MatchedFiles)
}

func TestProcessBatch_RecordsAndPublishes(t *testing.T) {
	gw := gatewayFunc(func(context.Context, domain.CompletionRequest) (string, error) { return "", nil })
	store := mocks.NewMockVerdictStore(t)
	events := mocks.NewMockEventPublisher(t)
	svc, _ := newService(t, gw, noopCleanup(t))
	svc.Store = store
	svc.Events = events

	store.On("SaveBatch", mock.Anything, mock.MatchedBy(func(b domain.BatchResult) bool {
		return b.ProcessedFiles == 1 && b.BatchID != ""
	})).Return(errors.New("db down"))
	events.On("PublishBatch", mock.Anything, mock.AnythingOfType("domain.BatchResult")).Return(nil)

	_, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{{Filename: "a.pdf", Content: []byte("x")}},
	})
	require.NoError(t, err)
}

func TestProcessBatch_Validation(t *testing.T) {
	svc, work := newService(t, mocks.NewMockGateway(t), mocks.NewMockCleanupScheduler(t))

	_, err := svc.ProcessBatch(context.Background(), domain.BatchRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "no files uploaded")

	_, err = svc.ProcessBatch(context.Background(), domain.BatchRequest{
		Files: []domain.UploadFile{{Filename: "../", Content: []byte("x")}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries, "no work is done before validation passes")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "cv.pdf", want: "cv.pdf"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\Users\me\bio data.pdf`, want: "bio data.pdf"},
		{in: "a\x00b.pdf", want: "ab.pdf"},
		{in: "  ", wantErr: true},
		{in: "..", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := usecase.SanitizeFilename(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBatch(t *testing.T) {
	svc, _ := newService(t, mocks.NewMockGateway(t), mocks.NewMockCleanupScheduler(t))
	_, err := svc.Batch(context.Background(), "x")
	require.ErrorIs(t, err, domain.ErrNotFound)

	store := mocks.NewMockVerdictStore(t)
	store.On("GetBatch", mock.Anything, "b1").Return(domain.BatchResult{BatchID: "b1"}, nil)
	store.On("GetBatch", mock.Anything, "b2").Return(domain.BatchResult{}, errors.New("conn reset"))
	svc.Store = store
	b, err := svc.Batch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", b.BatchID)
	_, err = svc.Batch(context.Background(), "b2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
