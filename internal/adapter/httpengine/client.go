package httpengine

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Config contains engine configuration
type Config struct {
	UserAgent             string
	ResponseHeaderTimeout time.Duration
	RetryMax              int
	RetryWaitMin          time.Duration
	RetryWaitMax          time.Duration
	ProgressInterval      time.Duration
	BufferSizeMB          int
	SkipTLSVerify         bool

	// DownloadMIMETypes turns a navigation into a transfer when the response
	// has one of these content types
	DownloadMIMETypes []string

	// ShouldDownload, when set, decides whether a navigation response is a download.
	// It overrides the Content-Disposition and MIME type checks.
	ShouldDownload func(resp *http.Response) bool
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		UserAgent:             "download-orchestrator/1.0",
		ResponseHeaderTimeout: 30 * time.Second,
		RetryMax:              3,
		RetryWaitMin:          time.Second,
		RetryWaitMax:          30 * time.Second,
		ProgressInterval:      250 * time.Millisecond,
		BufferSizeMB:          1,
		DownloadMIMETypes: []string{
			"application/octet-stream",
			"application/zip",
			"application/x-tar",
			"application/gzip",
			"application/pdf",
		},
	}
}

// newClient builds the retrying HTTP client used for every request
func newClient(cfg *Config, logger *zap.Logger) *retryablehttp.Client {
	bufferSize := cfg.BufferSizeMB * 1024 * 1024
	if bufferSize <= 0 {
		bufferSize = 1024 * 1024
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		WriteBufferSize: bufferSize,
		ReadBufferSize:  bufferSize,

		ForceAttemptHTTP2: true,

		// Disable compression so Content-Length and byte ranges refer to the file itself
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: transport}
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = &retryLogger{logger: logger.Named("http").Sugar()}
	// hand the last response back so status codes can be classified
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *zap.SugaredLogger
}

var _ retryablehttp.LeveledLogger = (*retryLogger)(nil)

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// request lines are too chatty for info
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}
