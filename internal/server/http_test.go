package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/crashbisect/crashbisect/pkg/bisect"
	"github.com/crashbisect/crashbisect/pkg/oracle"
)

type tableOracle struct {
	crashes map[string]bool
	last    string
}

func (f *tableOracle) Build(ctx context.Context, commit string) (*oracle.Artifact, error) {
	f.last = commit
	return &oracle.Artifact{Commit: commit, OutDir: "/out"}, nil
}

func (f *tableOracle) Reproduce(ctx context.Context, binary, testcase string) (oracle.CrashSignature, error) {
	return oracle.CrashSignature{Crashed: f.crashes[f.last]}, nil
}

func (f *tableOracle) RunForDuration(ctx context.Context, binary string, d time.Duration) (oracle.CrashSignature, error) {
	panic("not used by the server")
}

type staticLister struct{ commits []string }

func (l *staticLister) ListCommits(oldRev, newRev string) ([]string, error) {
	return l.commits, nil
}

func fakeFactory(req JobRequest) (*bisect.Job, error) {
	fake := &tableOracle{crashes: map[string]bool{"A": true, "B": true, "C": false, "D": false}}
	return &bisect.Job{
		CommitOld: req.CommitOld,
		CommitNew: req.CommitNew,

		FuzzTarget: req.FuzzTarget,
		Testcase:   req.Testcase,

		Builder:    fake,
		Reproducer: fake,
		Lister:     &staticLister{commits: []string{"A", "B", "C", "D"}},
	}, nil
}

func postTestJob(t *testing.T, router *gin.Engine, body string) jobResponse {
	t.Helper()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code, "Wrong status code for job submission")

	var resp jobResponse
	assert.Nil(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to parse submission response")
	return resp
}

func TestServerRunsJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := New(fakeFactory, nil).Router()

	resp := postTestJob(t, router, `{
		"project": "libxml2",
		"repository": "repo",
		"commitOld": "D",
		"commitNew": "A",
		"fuzzTarget": "xml_fuzzer",
		"testcase": "testcase"
	}`)
	assert.NotEmpty(t, resp.JobID, "Expected a job id")
	assert.Equal(t, statePending, resp.Status, "A fresh job must be pending")

	// The job runs on its own goroutine, poll until it is done
	var final jobResponse
	for i := 0; i < 100; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("/jobs/%s", resp.JobID), nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "Wrong status code for job lookup")
		assert.Nil(t, json.Unmarshal(w.Body.Bytes(), &final), "Failed to parse lookup response")
		if final.Status == stateDone || final.Status == stateFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, stateDone, final.Status, "Job did not finish")
	assert.Equal(t, "boundary", final.Outcome, "Wrong outcome")
	assert.Equal(t, "B", final.Commit, "Wrong boundary commit")
	assert.Empty(t, final.Error, "Expected no error")
}

func TestServerRejectsIncompleteRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := New(fakeFactory, nil).Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"project": "libxml2"}`))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code, "Requests missing required fields must be rejected")
}

func TestServerUnknownJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := New(fakeFactory, nil).Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code, "Unknown jobs must yield a 404")
}
