package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dchest/uniuri"
	"github.com/gin-gonic/gin"
)

type jobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`

	Outcome string `json:"outcome,omitempty"`
	Commit  string `json:"commit,omitempty"`

	CommitMessage string `json:"commitMessage,omitempty"`
	CommitDate    string `json:"commitDate,omitempty"`
	CommitAuthor  string `json:"commitAuthor,omitempty"`

	Steps int `json:"steps,omitempty"`

	Error string `json:"error,omitempty"`
}

// Router returns the gin engine serving the job API.
func (s *Server) Router() *gin.Engine {
	router := gin.Default()

	router.POST("/jobs", s.postJob)
	router.GET("/jobs/:jobId", s.getJob)

	return router
}

// Run serves the job API on the passed port. It blocks until the listener
// fails.
func (s *Server) Run(port int) error {
	return s.Router().Run(fmt.Sprintf("localhost:%d", port))
}

func (s *Server) postJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.factory(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	state := &jobState{
		id:     uniuri.New(),
		status: statePending,
	}
	s.mu.Lock()
	s.jobs[state.id] = state
	s.mu.Unlock()

	go func() {
		s.mu.Lock()
		state.status = stateRunning
		s.mu.Unlock()

		result, err := job.Run(context.Background())

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.log.Errorf("Job %s failed - %v", state.id, err)
			state.status = stateFailed
			state.err = err.Error()
			return
		}
		state.status = stateDone
		state.result = result
	}()

	c.JSON(http.StatusAccepted, jobResponse{JobID: state.id, Status: state.status})
}

func (s *Server) getJob(c *gin.Context) {
	id := c.Param("jobId")

	s.mu.Lock()
	state, found := s.jobs[id]
	if !found {
		s.mu.Unlock()
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	resp := jobResponse{
		JobID:  state.id,
		Status: state.status,
		Error:  state.err,
	}
	if state.result != nil {
		resp.Outcome = state.result.Outcome.String()
		resp.Commit = state.result.Commit.Hash
		resp.CommitMessage = state.result.CommitInfo.Message
		resp.CommitDate = state.result.CommitInfo.Date
		resp.CommitAuthor = state.result.CommitInfo.Author
		resp.Steps = state.result.Steps
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}
