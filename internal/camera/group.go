package camera

import (
	"context"
	"log/slog"
	"sync"
)

// Group operates a set of cameras as one unit: batch connect, batch
// commands, batch teardown. Cameras share nothing; each failure stays
// with its camera.
type Group struct {
	limit   int
	mu      sync.Mutex
	cameras map[string]*Camera
}

// NewGroup creates a group that runs at most limit operations at once.
func NewGroup(limit int) *Group {
	if limit <= 0 {
		limit = 4
	}
	return &Group{
		limit:   limit,
		cameras: make(map[string]*Camera),
	}
}

// Add registers a camera under a name. Replacing a name is allowed; the
// old camera is not closed.
func (g *Group) Add(name string, cam *Camera) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cameras[name] = cam
}

// Names returns the registered camera names.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.cameras))
	for name := range g.cameras {
		names = append(names, name)
	}
	return names
}

// OpenAll connects every camera, up to the concurrency limit at a time.
// The result maps camera names to their open error; an empty map means
// every camera opened.
func (g *Group) OpenAll(ctx context.Context) map[string]error {
	return g.Execute(ctx, func(ctx context.Context, _ string, cam *Camera) error {
		return cam.Open(ctx)
	})
}

// Execute runs op against every camera with bounded concurrency. Failures
// are isolated per camera and collected; the other cameras keep going.
func (g *Group) Execute(ctx context.Context, op func(ctx context.Context, name string, cam *Camera) error) map[string]error {
	g.mu.Lock()
	cameras := make(map[string]*Camera, len(g.cameras))
	for name, cam := range g.cameras {
		cameras[name] = cam
	}
	g.mu.Unlock()

	var (
		wg      sync.WaitGroup
		tokens  = make(chan struct{}, g.limit)
		errMu   sync.Mutex
		errs    = make(map[string]error)
	)
	for name, cam := range cameras {
		wg.Add(1)
		go func(name string, cam *Camera) {
			defer wg.Done()
			tokens <- struct{}{}
			defer func() { <-tokens }()

			if err := op(ctx, name, cam); err != nil {
				slog.Warn("[GROUP] operation failed", "camera", name, "error", err)
				errMu.Lock()
				errs[name] = err
				errMu.Unlock()
			}
		}(name, cam)
	}
	wg.Wait()
	return errs
}

// CloseAll tears every camera down. Close never fails, so there is
// nothing to collect.
func (g *Group) CloseAll() {
	g.mu.Lock()
	cameras := make([]*Camera, 0, len(g.cameras))
	for _, cam := range g.cameras {
		cameras = append(cameras, cam)
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, cam := range cameras {
		wg.Add(1)
		go func(cam *Camera) {
			defer wg.Done()
			cam.Close()
		}(cam)
	}
	wg.Wait()
}
