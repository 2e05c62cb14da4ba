package server

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/crashbisect/crashbisect/pkg/bisect"
)

// A JobRequest describes one bisection to run, as submitted by an HTTP
// client.
type JobRequest struct {
	Project    string `json:"project" binding:"required"`
	Repository string `json:"repository" binding:"required"`

	CommitOld string `json:"commitOld" binding:"required"`
	CommitNew string `json:"commitNew" binding:"required"`

	FuzzTarget string `json:"fuzzTarget" binding:"required"`
	Testcase   string `json:"testcase" binding:"required"`

	Engine       string `json:"engine"`
	Sanitizer    string `json:"sanitizer"`
	Architecture string `json:"architecture"`
}

// A JobFactory turns a request into a runnable bisection job. Injected so
// that the server can be exercised without docker or git.
type JobFactory func(JobRequest) (*bisect.Job, error)

const (
	statePending = "pending"
	stateRunning = "running"
	stateDone    = "done"
	stateFailed  = "failed"
)

type jobState struct {
	id     string
	status string
	result *bisect.Result
	err    string
}

// A Server exposes bisections over a RESTful HTTP API. Each submitted job
// runs on its own goroutine; the per-job build/reproduce pipeline stays
// strictly sequential.
type Server struct {
	factory JobFactory
	log     *logrus.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

// New returns a Server creating its jobs through the passed factory.
func New(factory JobFactory, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Server{
		factory: factory,
		log:     log,
		jobs:    make(map[string]*jobState),
	}
}
