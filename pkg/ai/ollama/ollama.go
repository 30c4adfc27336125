package ollama

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 384
	defaultTimeout    = 2 * time.Minute
)

// GraphOllamaClient implements ai.GraphAIClient and ai.Embedder on top of a
// locally hosted Ollama server.
type GraphOllamaClient struct {
	embeddingModel  string
	extractionModel string
	answerModel     string
	dimensions      int
	timeout         time.Duration

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	AnswerModel     string
	Dimensions      int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	Timeout               time.Duration
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient connects to the Ollama server at BaseURL, or the
// default local address when BaseURL is empty.
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	} else {
		u = &url.URL{Scheme: "http", Host: "127.0.0.1:11434"}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 1
	}
	dim := params.Dimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		answerModel:     params.AnswerModel,
		dimensions:      dim,
		timeout:         timeout,

		reqLock: semaphore.NewWeighted(maxReq),

		Client: api.NewClient(u, httpClient),
	}, nil
}

// Model reports the embedding model recorded next to the vectors.
func (c *GraphOllamaClient) Model() string {
	return "ollama:" + c.embeddingModel
}

func (c *GraphOllamaClient) Dimensions() int {
	return c.dimensions
}
