package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	cachex "github.com/tanpawarit/Chative-Character-Chat/agent/cache"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
	scenex "github.com/tanpawarit/Chative-Character-Chat/agent/scene"
	"golang.org/x/sync/semaphore"
)

const DefaultRoleID = "default"

type Config struct {
	MaxConcurrent int           `envconfig:"MAX_CONCURRENT" split_words:"true" default:"3"`
	MaxRetries    int           `envconfig:"MAX_RETRIES" split_words:"true" default:"3"`
	QueueInterval time.Duration `envconfig:"QUEUE_INTERVAL" split_words:"true" default:"500ms"`
}

// Deps are the collaborators of a Dispatcher. Persona, Reminders and Store
// are optional.
type Deps struct {
	Scenes    *scenex.Registry
	Roles     *rolex.Registry
	Cache     *cachex.Cache
	Invoker   contractx.Invoker
	Persona   contractx.PersonaSource
	Reminders contractx.ReminderSource
	Store     rolex.Store
	Rand      contractx.Rand
}

// Dispatcher owns the request queue. A single loop pops jobs in priority
// order and runs at most MaxConcurrent of them at a time.
type Dispatcher struct {
	scenes    *scenex.Registry
	roles     *rolex.Registry
	cache     *cachex.Cache
	invoker   contractx.Invoker
	persona   contractx.PersonaSource
	reminders contractx.ReminderSource
	store     rolex.Store
	rng       contractx.Rand

	maxRetries int
	interval   time.Duration
	sem        *semaphore.Weighted
	runner     compose.Runnable[*attempt, *attempt]

	mu      sync.Mutex
	queue   queue
	active  int
	stopped bool
	wake    chan struct{}

	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup

	now func() time.Time
}

func New(deps Deps, cfg Config) (*Dispatcher, error) {
	if deps.Scenes == nil {
		return nil, errors.New("scene registry is required")
	}
	if deps.Roles == nil {
		return nil, errors.New("role registry is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("response cache is required")
	}
	if deps.Invoker == nil {
		return nil, errors.New("backend invoker is required")
	}
	if deps.Rand == nil {
		deps.Rand = contractx.DefaultRand
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.QueueInterval < 0 {
		cfg.QueueInterval = 0
	}

	d := &Dispatcher{
		scenes:     deps.Scenes,
		roles:      deps.Roles,
		cache:      deps.Cache,
		invoker:    deps.Invoker,
		persona:    deps.Persona,
		reminders:  deps.Reminders,
		store:      deps.Store,
		rng:        deps.Rand,
		maxRetries: cfg.MaxRetries,
		interval:   cfg.QueueInterval,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		wake:       make(chan struct{}, 1),
		now:        time.Now,
	}

	runner, err := d.compileAttemptGraph(context.Background())
	if err != nil {
		return nil, err
	}
	d.runner = runner
	return d, nil
}

// Enqueue validates req and queues it. Cache hits resolve immediately and
// missing backend configuration is reported here, never retried.
func (d *Dispatcher) Enqueue(ctx context.Context, req contractx.Request) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.RoleID) == "" {
		req.RoleID = DefaultRoleID
	}
	scene := d.scenes.Get(req.Scene)
	req.Scene = scene.Tag

	id := uuid.NewString()
	if !req.SkipCache {
		if reply, ok := d.cache.Get(cachex.Key(req.Scene, req.RoleID, req.Message)); ok {
			log.Debug().Str("request_id", id).Str("scene", req.Scene).Str("role_id", req.RoleID).Msg("cache hit")
			return resolvedFuture(id, reply), nil
		}
	}

	if err := d.invoker.CheckConfig(); err != nil {
		log.Error().Err(err).Str("request_id", id).Msg("backend not configured")
		return nil, err
	}

	priority := req.Priority
	if priority == contractx.PriorityDefault {
		priority = scene.Priority
	}
	j := &job{
		id:         id,
		req:        req,
		scene:      scene,
		priority:   priority,
		enqueuedAt: d.now(),
		future:     newFuture(id),
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, contractx.ErrDispatcherStopped
	}
	d.queue.insert(j)
	queued := d.queue.Len()
	d.mu.Unlock()
	d.signal()

	log.Debug().
		Str("request_id", id).
		Str("scene", req.Scene).
		Str("role_id", req.RoleID).
		Stringer("priority", priority).
		Int("queue_length", queued).
		Msg("request enqueued")
	return j.future, nil
}

// Ask enqueues req and waits for its reply.
func (d *Dispatcher) Ask(ctx context.Context, req contractx.Request) (string, error) {
	f, err := d.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}
	return f.Wait(ctx)
}

type Result struct {
	Reply string
	Err   error
}

// Batch enqueues every request up front and returns the results in input order.
func (d *Dispatcher) Batch(ctx context.Context, reqs []contractx.Request) []Result {
	results := make([]Result, len(reqs))
	futures := make([]*Future, len(reqs))
	for i, req := range reqs {
		futures[i], results[i].Err = d.Enqueue(ctx, req)
	}
	for i, f := range futures {
		if f == nil {
			continue
		}
		results[i].Reply, results[i].Err = f.Wait(ctx)
	}
	return results
}

// Start runs the scheduling loop in the background until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil || d.stopped {
		d.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.loopDone = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.loopDone)
		d.run(loopCtx)
	}()
}

// Stop halts the loop, waits for in-flight calls and resolves everything
// still queued with ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancel, loopDone := d.cancel, d.loopDone
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-loopDone
	}
	d.inflight.Wait()

	d.mu.Lock()
	pending := d.queue.drain()
	d.mu.Unlock()
	for _, j := range pending {
		j.future.resolve("", contractx.ErrDispatcherStopped)
	}
	if len(pending) > 0 {
		log.Info().Int("dropped", len(pending)).Msg("dispatcher stopped with queued requests")
	}
}

func (d *Dispatcher) Stats() contractx.Stats {
	d.mu.Lock()
	queued, active := d.queue.Len(), d.active
	d.mu.Unlock()

	return contractx.Stats{
		QueueLength:    queued,
		ActiveRequests: active,
		CacheSize:      d.cache.Len(),
		MemorySize:     d.roles.HistoryCount(),
		RoleCount:      d.roles.Count(),
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	handlerCtx := context.WithoutCancel(ctx)
	for {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		j, ok := d.next(ctx)
		if !ok {
			d.sem.Release(1)
			return
		}

		d.inflight.Add(1)
		go d.handle(handlerCtx, j)

		if d.interval > 0 {
			timer := time.NewTimer(d.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// next blocks until a job is queued or ctx is done.
func (d *Dispatcher) next(ctx context.Context) (*job, bool) {
	for {
		d.mu.Lock()
		j, ok := d.queue.pop()
		if ok {
			d.active++
			d.mu.Unlock()
			return j, true
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, j *job) {
	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
		d.sem.Release(1)
		d.inflight.Done()
	}()

	logger := log.With().Str("request_id", j.id).Str("scene", j.req.Scene).Str("role_id", j.req.RoleID).Logger()

	out, err := d.runner.Invoke(ctx, &attempt{job: j})
	if err == nil {
		err = out.err
	}

	switch {
	case err == nil:
		d.succeed(ctx, j, out.reply)
		logger.Debug().Int("retries", j.retries).Msg("request completed")
	case errors.Is(err, contractx.ErrConfig):
		logger.Error().Err(err).Msg("backend configuration error")
		j.future.resolve("", err)
	case j.retries < d.maxRetries:
		j.retries++
		logger.Warn().Err(err).Int("retries", j.retries).Msg("request failed, retrying")
		d.mu.Lock()
		d.queue.pushFront(j)
		d.mu.Unlock()
		d.signal()
	default:
		reply := j.scene.Fallback(d.rng)
		logger.Warn().Err(err).Int("retries", j.retries).Str("fallback", reply).Msg("retries exhausted, using fallback")
		j.future.resolve(reply, nil)
	}
}

func (d *Dispatcher) succeed(ctx context.Context, j *job, reply string) {
	req := j.req
	// Replies produced with extra context must not answer the plain key.
	if !req.SkipCache {
		d.cache.Put(cachex.Key(req.Scene, req.RoleID, req.Message), reply)
	}

	d.roles.AppendTurn(req.Scene, req.RoleID,
		contractx.Message{Role: contractx.RoleUser, Content: req.Message},
		contractx.Message{Role: contractx.RoleAssistant, Content: reply},
	)
	d.roles.UpdateMemory(req.RoleID, contractx.MemoryRecord{
		Kind:      contractx.MemoryConversation,
		Content:   fmt.Sprintf("用户：%s\n回复：%s", req.Message, reply),
		Scene:     req.Scene,
		Timestamp: d.now(),
	})

	if d.store != nil {
		if snapshot, ok := d.roles.Lookup(req.RoleID); ok {
			if err := d.store.Save(ctx, &snapshot); err != nil {
				log.Warn().Err(err).Str("role_id", req.RoleID).Msg("persist role snapshot failed")
			}
		}
	}

	d.cache.Sweep()
	j.future.resolve(reply, nil)
}
