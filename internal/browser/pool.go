package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// Config holds the pool's launch settings.
type Config struct {
	ChromePath    string
	ChromeFlags   []string
	UseDocker     bool
	DockerImage   string
	LaunchTimeout time.Duration
}

// Instance is one headless browser plus a single page, scoped to exactly
// one session. It is never shared across sessions.
type Instance struct {
	SessionID   string
	UserDataDir string
	CreatedAt   time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	container   *containerInstance

	// Serializes actions so a session never has more than one browser
	// operation in flight.
	mu sync.Mutex
}

// Pool owns at most one browser instance per session: lazy launch,
// action execution, and teardown.
type Pool struct {
	mu        sync.Mutex
	instances map[string]*Instance
	cfg       Config
	docker    *dockerLauncher
	logger    *logrus.Entry
}

// NewPool creates the browser pool. The docker launcher is only built
// when container launch is enabled.
func NewPool(cfg Config, logger *logrus.Entry) (*Pool, error) {
	p := &Pool{
		instances: make(map[string]*Instance),
		cfg:       cfg,
		logger:    logger,
	}
	if cfg.UseDocker {
		d, err := newDockerLauncher(cfg.DockerImage)
		if err != nil {
			return nil, err
		}
		// Pull up front so the first session does not pay for it.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := d.EnsureImage(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to ensure browser image %s: %w", cfg.DockerImage, err)
		}
		p.docker = d
	}
	return p, nil
}

// Ensure returns the session's browser instance, launching one if
// absent. Launch failures are retryable: the next call attempts a fresh
// launch rather than poisoning the session.
func (p *Pool) Ensure(ctx context.Context, sessionID string) (*Instance, error) {
	p.mu.Lock()
	if inst, ok := p.instances[sessionID]; ok {
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()

	inst, err := p.launch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	// Lost the race: another caller launched first. Keep theirs.
	if existing, ok := p.instances[sessionID]; ok {
		p.mu.Unlock()
		inst.teardown(p.docker)
		return existing, nil
	}
	p.instances[sessionID] = inst
	p.mu.Unlock()

	return inst, nil
}

func (p *Pool) launch(ctx context.Context, sessionID string) (*Instance, error) {
	userDataDir := filepath.Join(os.TempDir(), "webpilot", sessionID)
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user data directory: %w", err)
	}

	inst := &Instance{
		SessionID:   sessionID,
		UserDataDir: userDataDir,
		CreatedAt:   time.Now(),
	}

	var allocCtx context.Context
	if p.docker != nil {
		cont, err := p.docker.Launch(ctx, sessionID)
		if err != nil {
			os.RemoveAll(userDataDir)
			return nil, fmt.Errorf("container launch failed: %w", err)
		}
		inst.container = cont
		allocCtx, inst.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cont.WSURL)
	} else {
		execPath, source := resolveExecutable(p.cfg.ChromePath, fileExists)
		p.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"exec_path":  execPath,
			"source":     source,
		}).Debug("resolved browser executable")
		opts := allocatorOptions(execPath, userDataDir, p.cfg.ChromeFlags)
		allocCtx, inst.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	inst.ctx, inst.cancel = chromedp.NewContext(allocCtx)

	// Bound the launch: a browser that never comes up should surface as
	// a retryable error, not a hang.
	launchErr := make(chan error, 1)
	go func() { launchErr <- chromedp.Run(inst.ctx) }()

	select {
	case err := <-launchErr:
		if err != nil {
			inst.teardown(p.docker)
			return nil, fmt.Errorf("browser launch failed: %w", err)
		}
	case <-time.After(p.cfg.LaunchTimeout):
		inst.teardown(p.docker)
		return nil, fmt.Errorf("browser launch timed out after %s", p.cfg.LaunchTimeout)
	case <-ctx.Done():
		inst.teardown(p.docker)
		return nil, ctx.Err()
	}

	p.logger.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"user_data_dir": userDataDir,
		"containerized": inst.container != nil,
	}).Info("browser launched")

	return inst, nil
}

// Dispose tears down the session's instance, if any. Idempotent.
func (p *Pool) Dispose(sessionID string) {
	p.mu.Lock()
	inst, ok := p.instances[sessionID]
	if ok {
		delete(p.instances, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	inst.teardown(p.docker)
	p.logger.WithField("session_id", sessionID).Info("browser disposed")
}

// DisposeAll tears down every instance. Used on shutdown.
func (p *Pool) DisposeAll() {
	p.mu.Lock()
	instances := p.instances
	p.instances = make(map[string]*Instance)
	p.mu.Unlock()

	for id, inst := range instances {
		inst.teardown(p.docker)
		p.logger.WithField("session_id", id).Debug("browser disposed on shutdown")
	}
	if p.docker != nil {
		p.docker.Close()
	}
}

// Has reports whether the session currently owns an instance.
func (p *Pool) Has(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.instances[sessionID]
	return ok
}

// ReleaseSession implements session.Releaser: session deletion disposes
// the browser.
func (p *Pool) ReleaseSession(sessionID string) {
	p.Dispose(sessionID)
}

func (i *Instance) teardown(docker *dockerLauncher) {
	if i.cancel != nil {
		i.cancel()
	}
	if i.allocCancel != nil {
		i.allocCancel()
	}
	if i.container != nil && docker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Best effort
		_ = docker.Stop(ctx, i.container.ID)
	}
	if i.UserDataDir != "" {
		os.RemoveAll(i.UserDataDir)
	}
}
