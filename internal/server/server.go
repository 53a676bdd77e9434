// Package server maps a JSON-over-stdio request protocol onto the typed
// cache engine API. Framing is line-delimited JSON: one request object per
// line in, one response object per line out.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vaultcache/vaultcache/internal/cache"
	"github.com/vaultcache/vaultcache/internal/metrics"
	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
	"github.com/vaultcache/vaultcache/pkg/logutil"
)

// Request is one decoded protocol line.
type Request struct {
	ID      string           `json:"id,omitempty"`
	Op      string           `json:"op"`
	Key     string           `json:"key,omitempty"`
	Keys    []string         `json:"keys,omitempty"`
	Value   interface{}      `json:"value,omitempty"`
	TTL     int              `json:"ttl,omitempty"`
	Items   []RequestItem    `json:"items,omitempty"`
	Options *RequestOptions  `json:"options,omitempty"`
	GC      *GCRequest       `json:"gc,omitempty"`
	Levels  *ThresholdLevels `json:"levels,omitempty"`
	Path    string           `json:"path,omitempty"`
}

// RequestItem is one entry of a batch set.
type RequestItem struct {
	Key     string          `json:"key"`
	Value   interface{}     `json:"value"`
	TTL     int             `json:"ttl,omitempty"`
	Options *RequestOptions `json:"options,omitempty"`
}

// RequestOptions mirrors the engine's set/get options.
type RequestOptions struct {
	Version              string   `json:"version,omitempty"`
	Dependencies         []string `json:"dependencies,omitempty"`
	SourceFile           string   `json:"sourceFile,omitempty"`
	ValidateDependencies *bool    `json:"validateDependencies,omitempty"`
}

// GCRequest selects the collection mode.
type GCRequest struct {
	Aggressive bool `json:"aggressive,omitempty"`
}

// ThresholdLevels carries a pressure-threshold update.
type ThresholdLevels struct {
	Low      float64 `json:"low,omitempty"`
	Medium   float64 `json:"medium,omitempty"`
	High     float64 `json:"high,omitempty"`
	Critical float64 `json:"critical,omitempty"`
}

// Response is one encoded protocol line.
type Response struct {
	ID     string         `json:"id"`
	OK     bool           `json:"ok"`
	Value  interface{}    `json:"value,omitempty"`
	Found  *bool          `json:"found,omitempty"`
	Result interface{}    `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError carries the structured error surface.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Config holds server settings.
type Config struct {
	// RequestsPerSecond bounds the request rate; zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the limiter burst size.
	Burst int `yaml:"burst"`
}

// Server drives the request loop against one engine.
type Server struct {
	engine  *cache.Engine
	metrics *metrics.Collector
	logger  *logutil.Logger
	limiter *rate.Limiter

	mu  sync.Mutex
	out *json.Encoder
}

// New creates a server for the given engine. The collector may be nil when
// metrics are disabled.
func New(engine *cache.Engine, cfg Config, collector *metrics.Collector, logger *logutil.Logger) *Server {
	if logger == nil {
		logger = logutil.Discard()
	}
	s := &Server{
		engine:  engine,
		metrics: collector,
		logger:  logger.WithComponent("server"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

// Run reads requests from r and writes responses to w until EOF or context
// cancellation.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.respond(Response{
				ID: uuid.NewString(),
				Error: &ResponseError{
					Code:    string(cacheerrors.ErrCodeInvalidInput),
					Message: "malformed request: " + err.Error(),
				},
			})
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		s.respond(s.handle(ctx, req))
	}
	return scanner.Err()
}

func (s *Server) respond(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.out.Encode(resp); err != nil {
		s.logger.Error("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := s.dispatch(ctx, req)
	s.observe(req, resp, time.Since(start))
	s.logger.Debug("request handled", map[string]interface{}{
		"op":       req.Op,
		"ok":       resp.OK,
		"duration": time.Since(start).String(),
	})
	return resp
}

// observe records the per-operation metrics for one handled request.
func (s *Server) observe(req Request, resp Response, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var opErr error
	if resp.Error != nil {
		opErr = cacheerrors.New(cacheerrors.ErrorCode(resp.Error.Code), resp.Error.Message)
	}
	s.metrics.RecordOperation(req.Op, elapsed, opErr)

	switch req.Op {
	case "get":
		if resp.Found != nil {
			if *resp.Found {
				s.metrics.RecordHit()
			} else {
				s.metrics.RecordMiss()
			}
		}
	case "get_many":
		if result, ok := resp.Result.(cache.BatchGetResult); ok {
			for range result.Found {
				s.metrics.RecordHit()
			}
			for range result.Missing {
				s.metrics.RecordMiss()
			}
		}
	}
}

func (s *Server) dispatch(_ context.Context, req Request) Response {
	switch req.Op {
	case "set":
		err := s.engine.Set(req.Key, req.Value, req.TTL, setOptions(req.Options))
		return s.outcome(req.ID, nil, err)

	case "get":
		value, found, err := s.engine.Get(req.Key, getOptions(req.Options))
		if err != nil {
			return s.failure(req.ID, err)
		}
		return Response{ID: req.ID, OK: true, Value: value, Found: &found}

	case "delete":
		deleted, err := s.engine.Delete(req.Key)
		return s.outcome(req.ID, deleted, err)

	case "clear":
		return s.outcome(req.ID, nil, s.engine.Clear())

	case "set_many":
		items := make([]cache.BatchSetItem, 0, len(req.Items))
		for _, item := range req.Items {
			opts := setOptions(item.Options)
			spec := cache.BatchSetItem{Key: item.Key, Value: item.Value, TTLSeconds: item.TTL}
			if opts != nil {
				spec.Options = *opts
			}
			items = append(items, spec)
		}
		return Response{ID: req.ID, OK: true, Result: s.engine.SetMany(items)}

	case "get_many":
		return Response{ID: req.ID, OK: true, Result: s.engine.GetMany(req.Keys, getOptions(req.Options))}

	case "delete_many":
		return Response{ID: req.ID, OK: true, Result: s.engine.DeleteMany(req.Keys)}

	case "get_stats":
		return Response{ID: req.ID, OK: true, Result: s.engine.Stats()}

	case "force_gc":
		aggressive := req.GC != nil && req.GC.Aggressive
		return Response{ID: req.ID, OK: true, Result: s.engine.ForceGC(aggressive)}

	case "set_pressure_thresholds":
		if req.Levels == nil {
			return s.failure(req.ID, cacheerrors.New(cacheerrors.ErrCodeInvalidInput, "levels required"))
		}
		err := s.engine.SetPressureThresholds(cache.PressureThresholds{
			Low:      req.Levels.Low,
			Medium:   req.Levels.Medium,
			High:     req.Levels.High,
			Critical: req.Levels.Critical,
		})
		return s.outcome(req.ID, nil, err)

	case "watch":
		ok, err := s.engine.WatchPath(req.Path, req.Key)
		return s.outcome(req.ID, ok, err)

	case "unwatch":
		return Response{ID: req.ID, OK: true, Result: s.engine.UnwatchPath(req.Path)}

	default:
		return s.failure(req.ID, cacheerrors.Newf(cacheerrors.ErrCodeInvalidInput, "unknown operation %q", req.Op))
	}
}

func (s *Server) outcome(id string, result interface{}, err error) Response {
	if err != nil {
		return s.failure(id, err)
	}
	return Response{ID: id, OK: true, Result: result}
}

func (s *Server) failure(id string, err error) Response {
	return Response{
		ID: id,
		Error: &ResponseError{
			Code:    string(cacheerrors.CodeOf(err)),
			Message: err.Error(),
		},
	}
}

func setOptions(o *RequestOptions) *cache.SetOptions {
	if o == nil {
		return nil
	}
	return &cache.SetOptions{
		Version:      o.Version,
		Dependencies: o.Dependencies,
		SourceFile:   o.SourceFile,
	}
}

func getOptions(o *RequestOptions) *cache.GetOptions {
	if o == nil {
		return nil
	}
	return &cache.GetOptions{
		Version:              o.Version,
		ValidateDependencies: o.ValidateDependencies,
	}
}
