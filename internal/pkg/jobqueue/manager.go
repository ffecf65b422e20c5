package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Task is a periodic background chore owned by the manager.
type Task func(ctx context.Context) error

type periodicTask struct {
	name     string
	interval time.Duration
	run      Task
}

// Manager owns the named queues of the process and their periodic background tasks
type Manager struct {
	queues  []*Queue
	tasks   []periodicTask
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager creates a manager for the given queues
func NewManager(queues ...*Queue) *Manager {
	return &Manager{
		queues: queues,
		stopCh: make(chan struct{}),
	}
}

// Queue returns the managed queue with the given name, or nil
func (m *Manager) Queue(name string) *Queue {
	for _, q := range m.queues {
		if q.Name() == name {
			return q
		}
	}
	return nil
}

// Queues returns all managed queues
func (m *Manager) Queues() []*Queue {
	return m.queues
}

// Every registers a task that runs on a fixed interval while the manager is running.
// Tasks must be registered before Start.
func (m *Manager) Every(name string, interval time.Duration, task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, periodicTask{name: name, interval: interval, run: task})
}

// Start starts the queues and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	var ctx context.Context
	ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true
	log.Info("[JobQueue Manager] Starting job queues and background tasks")

	for _, q := range m.queues {
		q.Start()
	}

	for _, t := range m.tasks {
		if t.interval <= 0 {
			log.Warnf("[JobQueue Manager] Task %s has no interval, skipping", t.name)
			continue
		}
		m.wg.Add(1)
		go m.taskWorker(ctx, t, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the background tasks first, then drains the queues
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queues and background tasks...")

	close(m.stopCh)
	m.cancel()
	m.running = false
	m.wg.Wait()

	for _, q := range m.queues {
		q.Stop()
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) taskWorker(ctx context.Context, t periodicTask, stopCh <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	log.Infof("[JobQueue Manager] Started %s (interval: %s)", t.name, t.interval)

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s stopping", t.name)
			return
		case <-ticker.C:
			if err := t.run(ctx); err != nil {
				log.Errorf("[JobQueue Manager] %s error: %v", t.name, err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
