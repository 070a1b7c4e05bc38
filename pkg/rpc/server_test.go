package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bksd/bksd/pkg/domain"
	"github.com/bksd/bksd/pkg/progress"
)

// region stubPersistence
// stubPersistence implements domain.Persistence with a fixed, in-memory job
// list, enough to drive jobs.list/jobs.get through the real Handler.
type stubPersistence struct {
	jobs map[string]domain.JobWithHistory
}

func (s stubPersistence) UpsertTarget(ctx context.Context, target domain.Target) error { return nil }
func (s stubPersistence) CreateJob(ctx context.Context, job domain.Job) error          { return nil }
func (s stubPersistence) AppendStatus(ctx context.Context, jobID string, tag domain.StatusTag, description *string, totalBytes, durationSecs *uint64) error {
	return nil
}

func (s stubPersistence) ListJobs(ctx context.Context, limit, offset uint32, statusFilter *string) ([]domain.Job, error) {
	var jobs []domain.Job
	for _, j := range s.jobs {
		jobs = append(jobs, j.Job)
	}
	return jobs, nil
}

func (s stubPersistence) GetJob(ctx context.Context, id string) (domain.JobWithHistory, error) {
	job, ok := s.jobs[id]
	if !ok {
		return domain.JobWithHistory{}, assertNotFound{}
	}
	return job, nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

// endregion

func startTestServer(t *testing.T) (net.Addr, func()) {
	t.Helper()

	tracker := progress.New()
	tracker.Set("job-1", domain.JobStatus{State: domain.StatusInProgress, Percentage: 42})

	persistence := stubPersistence{jobs: map[string]domain.JobWithHistory{
		"job-1": {Job: domain.Job{ID: "job-1", Status: "in_progress"}},
	}}

	handler := NewHandler(persistence, tracker, DaemonInfo{Version: "test", RPCBind: "127.0.0.1:0"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(ln, handler, logrus.New())
	go server.Serve()

	return ln.Addr(), func() { ln.Close() }
}

func sendAndReceive(t *testing.T, addr net.Addr, frame string) Response {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(frame + "\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestServer_DaemonStatus(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	resp := sendAndReceive(t, addr, `{"jsonrpc":"2.0","method":"daemon.status","id":1}`)

	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestServer_JobsGet(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	resp := sendAndReceive(t, addr, `{"jsonrpc":"2.0","method":"jobs.get","params":{"id":"job-1"},"id":2}`)

	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestServer_JobsGet_UnknownID(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	resp := sendAndReceive(t, addr, `{"jsonrpc":"2.0","method":"jobs.get","params":{"id":"nope"},"id":3}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ApplicationErrorCode, resp.Error.Code)
}

func TestServer_UnknownMethod(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	resp := sendAndReceive(t, addr, `{"jsonrpc":"2.0","method":"bogus.method","id":4}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFoundCode, resp.Error.Code)
}

func TestServer_BadJSON(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	resp := sendAndReceive(t, addr, `{not json`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ParseErrorCode, resp.Error.Code)
}
