package scheduler

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scanconsole/internal/errors"
	"github.com/anstrom/scanconsole/internal/export"
	"github.com/anstrom/scanconsole/internal/logging"
	"github.com/anstrom/scanconsole/internal/scan"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	result scan.Result
	err    error
	forms  []scan.Form
	ctxErr []error
	block  chan struct{}
}

func (f *fakeSubmitter) SubmitForm(ctx context.Context, form scan.Form) (scan.Result, error) {
	f.mu.Lock()
	f.forms = append(f.forms, form)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	f.ctxErr = append(f.ctxErr, ctx.Err())
	f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forms)
}

func portForm() scan.Form {
	return scan.Form{Target: "10.0.0.5", Type: scan.TypeTCPConnect, Ports: "22,80"}
}

func newScheduler(sub Submitter) *Scheduler {
	return NewScheduler(sub, export.New(export.WithLogger(logging.Discard())), WithLogger(logging.Discard()))
}

func TestAddJobValidation(t *testing.T) {
	s := newScheduler(&fakeSubmitter{})

	_, err := s.AddJob(JobConfig{Cron: "not a cron", Form: portForm()})
	assert.Error(t, err)

	_, err = s.AddJob(JobConfig{Cron: "*/5 * * * *", Form: scan.Form{Target: "10.0.0.5", Type: scan.TypeUDP}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	id, err := s.AddJob(JobConfig{Cron: "*/5 * * * *", Form: portForm()})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	jobs := s.GetJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tcp-connect 10.0.0.5", jobs[0].Config.Name)
	assert.False(t, jobs[0].NextRun.IsZero())
}

func TestRunNowExportsPortResults(t *testing.T) {
	sub := &fakeSubmitter{result: scan.Result{
		Kind:     scan.KindPorts,
		Target:   "10.0.0.5",
		ScanType: scan.TypeTCPConnect,
		Ports:    []scan.PortResult{{Port: 22, Status: scan.StatusOpen}, {Port: 80, Status: scan.StatusClosed}},
	}}

	var hookCalls int
	s := NewScheduler(sub, export.New(export.WithLogger(logging.Discard())),
		WithLogger(logging.Discard()),
		WithRunHook(func(uuid.UUID, RunSummary) { hookCalls++ }))

	dir := t.TempDir()
	id, err := s.AddJob(JobConfig{Name: "nightly", Cron: "0 2 * * *", Form: portForm(), ExportDir: dir, Formats: []export.Format{export.FormatCSV}})
	require.NoError(t, err)

	summary, err := s.RunNow(id)
	require.NoError(t, err)
	assert.Equal(t, scan.KindPorts, summary.Kind)
	assert.Empty(t, summary.Error)
	require.Len(t, summary.Artifacts, 1)
	assert.Equal(t, 1, hookCalls)

	_, err = os.Stat(summary.Artifacts[0].Path)
	assert.NoError(t, err)

	jobs := s.GetJobs()
	require.NotNil(t, jobs[0].Last)
	assert.False(t, jobs[0].Running)
	assert.False(t, jobs[0].LastRun.IsZero())
}

func TestRunNowRecordsFailures(t *testing.T) {
	sub := &fakeSubmitter{err: errors.ErrAuthRequired("10.0.0.5")}
	s := newScheduler(sub)

	dir := t.TempDir()
	id, err := s.AddJob(JobConfig{Cron: "@hourly", Form: portForm(), ExportDir: dir})
	require.NoError(t, err)

	summary, err := s.RunNow(id)
	require.NoError(t, err)
	assert.Contains(t, summary.Error, errors.MsgAuthRequired)
	assert.Empty(t, summary.Artifacts)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	sub := &fakeSubmitter{result: scan.Result{Kind: scan.KindOS}, block: make(chan struct{})}
	s := newScheduler(sub)

	id, err := s.AddJob(JobConfig{Cron: "@every 1h", Form: portForm()})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = s.RunNow(id)
		close(done)
	}()
	require.Eventually(t, func() bool { return sub.calls() == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.RunNow(id)
	assert.ErrorContains(t, err, "already running")

	close(sub.block)
	<-done
	assert.Equal(t, 1, sub.calls())
}

func TestRemoveJob(t *testing.T) {
	s := newScheduler(&fakeSubmitter{})

	id, err := s.AddJob(JobConfig{Cron: "@daily", Form: portForm()})
	require.NoError(t, err)
	require.NoError(t, s.RemoveJob(id))
	assert.Empty(t, s.GetJobs())
	assert.Error(t, s.RemoveJob(id))

	_, err = s.RunNow(id)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := newScheduler(&fakeSubmitter{})

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	s.Stop()
	s.Stop()
}

func TestStopLetsRunningJobsFinish(t *testing.T) {
	sub := &fakeSubmitter{result: scan.Result{Kind: scan.KindOS}, block: make(chan struct{})}
	s := newScheduler(sub)

	id, err := s.AddJob(JobConfig{Cron: "@every 1h", Form: portForm()})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	runDone := make(chan RunSummary)
	go func() {
		summary, _ := s.RunNow(id)
		runDone <- summary
	}()
	require.Eventually(t, func() bool { return sub.calls() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sub.block)
	summary := <-runDone
	<-stopped
	assert.Empty(t, summary.Error)

	sub.mu.Lock()
	sub.block = nil
	sub.mu.Unlock()

	require.NoError(t, s.Start())
	defer s.Stop()
	summary, err = s.RunNow(id)
	require.NoError(t, err)
	assert.Empty(t, summary.Error)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Len(t, sub.ctxErr, 2)
	assert.NoError(t, sub.ctxErr[0], "running scan must not be cancelled by Stop")
	assert.NoError(t, sub.ctxErr[1], "restarted scheduler must hand out a live context")
}
