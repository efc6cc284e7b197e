package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// WorkerRuntime spawns one external diffusion worker process per loaded
// model and talks to it over loopback HTTP. The worker owns the torch side:
// pipeline construction, device placement and the denoising loop.
type WorkerRuntime struct {
	cfg WorkerConfig

	mu    sync.Mutex
	procs map[string]*workerProc // key: model id

	httpClient *http.Client
}

// WorkerConfig configures worker process management.
type WorkerConfig struct {
	// Bin is the worker executable (e.g. a thin python entrypoint).
	Bin string
	// Host for loopback listeners; defaults to 127.0.0.1.
	Host string
	// PortStart/PortEnd bound the listen port search range.
	PortStart int
	PortEnd   int
	// ReadyTimeout bounds how long Load waits for worker readiness; model
	// load is seconds to minutes, so the default is generous.
	ReadyTimeout time.Duration
}

type workerProc struct {
	cmd     *exec.Cmd
	baseURL string
	pid     int
}

// NewWorkerRuntime constructs a subprocess-backed PipelineRuntime.
func NewWorkerRuntime(cfg WorkerConfig) *WorkerRuntime {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.PortStart == 0 {
		cfg.PortStart = 31000
	}
	if cfg.PortEnd == 0 {
		cfg.PortEnd = 31999
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 5 * time.Minute
	}
	// Timeout=0 on purpose: generation calls carry their own context deadlines.
	return &WorkerRuntime{
		cfg:        cfg,
		procs:      make(map[string]*workerProc),
		httpClient: &http.Client{Timeout: 0},
	}
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, p))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

// healthResponse is what the worker reports on GET /healthz once the
// pipeline is resident.
type healthResponse struct {
	Status  string `json:"status"`
	Applied struct {
		AttentionSlicing         bool `json:"attention_slicing"`
		MemoryEfficientAttention bool `json:"memory_efficient_attention"`
	} `json:"applied"`
}

func (r *WorkerRuntime) Load(ctx context.Context, modelID, modelPath string, opts LoadOpts) (Pipeline, error) {
	if strings.TrimSpace(r.cfg.Bin) == "" {
		return nil, errors.New("worker binary not configured")
	}
	port, err := pickPortInRange(r.cfg.Host, r.cfg.PortStart, r.cfg.PortEnd)
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", r.cfg.Host, port)

	modelArg := modelID
	if modelPath != "" {
		modelArg = modelPath
	}
	args := []string{
		"--model", modelArg,
		"--listen", fmt.Sprintf("%s:%d", r.cfg.Host, port),
		"--device", string(opts.Device),
		"--precision", string(opts.Precision),
	}
	if opts.AttentionSlicing {
		args = append(args, "--attention-slicing")
	}
	if opts.MemoryEfficientAttention {
		args = append(args, "--xformers")
	}
	cmd := exec.Command(r.cfg.Bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	proc := &workerProc{cmd: cmd, baseURL: baseURL, pid: cmd.Process.Pid}
	log.Printf("runtime event=worker_spawn model=%q pid=%d port=%d", modelID, proc.pid, port)

	health, err := r.awaitReady(ctx, proc)
	if err != nil {
		r.stopProc(proc)
		return nil, fmt.Errorf("worker for %q: %w", modelID, err)
	}
	if opts.MemoryEfficientAttention && !health.Applied.MemoryEfficientAttention {
		// Worker came up without the requested optimization; report it as
		// unsupported so the cache retries the load with attention slicing.
		r.stopProc(proc)
		return nil, ErrOptimizationUnsupported("memory-efficient attention")
	}

	r.mu.Lock()
	r.procs[modelID] = proc
	r.mu.Unlock()
	return &workerPipeline{r: r, modelID: modelID, baseURL: baseURL}, nil
}

// awaitReady polls /healthz until the worker reports ok or the process dies.
func (r *WorkerRuntime) awaitReady(ctx context.Context, proc *workerProc) (healthResponse, error) {
	deadline := time.Now().Add(r.cfg.ReadyTimeout)
	for {
		if time.Now().After(deadline) {
			return healthResponse{}, errors.New("readiness timeout")
		}
		if err := ctx.Err(); err != nil {
			return healthResponse{}, err
		}
		if proc.cmd.ProcessState != nil {
			return healthResponse{}, fmt.Errorf("worker exited early: %s", proc.cmd.ProcessState)
		}
		hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		req, _ := http.NewRequestWithContext(hctx, http.MethodGet, proc.baseURL+"/healthz", nil)
		resp, err := r.httpClient.Do(req)
		cancel()
		if err == nil {
			var h healthResponse
			decErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&h)
			resp.Body.Close()
			if decErr == nil && resp.StatusCode == http.StatusOK && h.Status == "ok" {
				return h, nil
			}
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return healthResponse{}, ctx.Err()
		}
	}
}

func (r *WorkerRuntime) stopProc(proc *workerProc) {
	if proc == nil || proc.cmd == nil || proc.cmd.Process == nil {
		return
	}
	// Signal the process group so helper children die with the worker.
	_ = syscall.Kill(-proc.pid, syscall.SIGTERM)
	done := make(chan struct{})
	go func() { _ = proc.cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = syscall.Kill(-proc.pid, syscall.SIGKILL)
		<-done
	}
	log.Printf("runtime event=worker_stop pid=%d", proc.pid)
}

// StopAll terminates all managed workers. Best effort.
func (r *WorkerRuntime) StopAll() {
	r.mu.Lock()
	procs := make([]*workerProc, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.procs = make(map[string]*workerProc)
	r.mu.Unlock()
	for _, p := range procs {
		r.stopProc(p)
	}
}

type workerPipeline struct {
	r       *WorkerRuntime
	modelID string
	baseURL string
}

func (p *workerPipeline) ModelID() string { return p.modelID }

type txt2imgRequest struct {
	Prompt            string  `json:"prompt"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Seed              *int64  `json:"seed,omitempty"`
}

func (p *workerPipeline) Generate(ctx context.Context, gp GenerateParams) ([]byte, error) {
	body, err := json.Marshal(txt2imgRequest{
		Prompt:            gp.Prompt,
		NumInferenceSteps: gp.NumInferenceSteps,
		GuidanceScale:     gp.GuidanceScale,
		Width:             gp.Width,
		Height:            gp.Height,
		Seed:              gp.Seed,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/txt2img", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("worker http error: %s: %s", resp.Status, string(b))
	}
	return io.ReadAll(resp.Body)
}

func (p *workerPipeline) Close() error {
	p.r.mu.Lock()
	proc := p.r.procs[p.modelID]
	delete(p.r.procs, p.modelID)
	p.r.mu.Unlock()
	p.r.stopProc(proc)
	return nil
}
