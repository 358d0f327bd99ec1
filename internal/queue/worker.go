package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petvet-ai/whatsapp-handler/core/logger"
	"github.com/petvet-ai/whatsapp-handler/internal/clients"
	"github.com/petvet-ai/whatsapp-handler/internal/flow"
	"github.com/petvet-ai/whatsapp-handler/internal/session"
	"github.com/petvet-ai/whatsapp-handler/internal/wa"
)

const (
	// How long completed jobs keep their message id reserved for dedup.
	dedupWindow   = 24 * time.Hour
	pruneInterval = time.Hour
)

const processingApology = "Desculpe, ocorreu um erro ao processar sua mensagem. " +
	"Por favor, tente novamente em alguns instantes."

// Engine turns an inbound message into replies and a new session state.
type Engine interface {
	Process(ctx context.Context, fc *flow.Context) *flow.Result
}

// Deliverer sends a batch of replies to one recipient in order.
type Deliverer interface {
	Deliver(ctx context.Context, to string, messages []wa.Outbound) error
}

// ReadMarker acknowledges an inbound message at the provider.
type ReadMarker interface {
	MarkAsRead(ctx context.Context, messageID string) error
}

// UserDirectory resolves the sender's account when a session is created.
type UserDirectory interface {
	UserByPhone(ctx context.Context, phone string) (*clients.User, error)
	Pets(ctx context.Context, userID string) ([]clients.Pet, error)
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers      int
	MaxAttempts  int
	Backoff      time.Duration
	PollInterval time.Duration
}

// Pool drains the queue with a fixed set of workers. Jobs from the same
// sender are serialized through a per-address lease so their session writes
// never interleave; jobs from different senders run in parallel.
type Pool struct {
	store      Store
	sessions   session.Store
	locker     *session.Locker
	engine     Engine
	dispatcher Deliverer
	reader     ReadMarker
	directory  UserDirectory
	cfg        PoolConfig
}

// NewPool wires a worker pool.
func NewPool(store Store, sessions session.Store, engine Engine, dispatcher Deliverer, reader ReadMarker, directory UserDirectory, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Pool{
		store:      store,
		sessions:   sessions,
		locker:     session.NewLocker(),
		engine:     engine,
		dispatcher: dispatcher,
		reader:     reader,
		directory:  directory,
		cfg:        cfg,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (p *Pool) Run(ctx context.Context) {
	logger.Q.Info("workers started",
		"event", "queue.start",
		"count", p.cfg.Workers,
		"max_attempts", p.cfg.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.pruner(ctx)
	}()

	wg.Wait()
	logger.Q.Info("workers stopped", "event", "queue.stop")
}

func (p *Pool) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.store.Claim(ctx)
		if errors.Is(err, ErrEmpty) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			logger.Q.Error("claim failed", "event", "queue.claim", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.handle(ctx, job)
	}
}

func (p *Pool) pruner(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.PruneCompleted(ctx, dedupWindow)
			if err != nil {
				logger.Q.Error("prune failed", "event", "queue.prune", "err", err)
				continue
			}
			if n > 0 {
				logger.Q.Debug("completed jobs pruned", "event", "queue.prune", "count", n)
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, job *Job) {
	from := job.Payload.Message.From
	ctx = logger.WithJobID(ctx, job.ID)
	ctx = logger.WithMessageMeta(ctx, job.MessageID, from)

	start := time.Now()
	attempt := job.Attempts + 1

	logger.Q.Info("processing message",
		"event", "queue.process",
		"op", job.Payload.Message.Type,
		"attempt", attempt,
		"max_attempts", job.MaxAttempts)

	err := p.process(ctx, job)
	if err == nil {
		if cerr := p.store.Complete(ctx, job.ID); cerr != nil {
			logger.Q.Error("complete failed", "event", "queue.complete", "err", cerr)
		}
		logger.Q.Info("message processed",
			"event", "queue.process",
			"status", "ok",
			"duration", logger.Took(start))
		return
	}

	if attempt >= job.MaxAttempts {
		if ferr := p.store.Fail(ctx, job.ID, err); ferr != nil {
			logger.Q.Error("dead-letter failed", "event", "queue.fail", "err", ferr)
		}
		logger.Q.Error("message dead-lettered",
			"event", "queue.process",
			"status", "dead",
			"attempts", attempt,
			"max_attempts", job.MaxAttempts,
			"err", err)
		// Best effort: tell the sender their message was lost.
		if terr := p.dispatcher.Deliver(ctx, from, []wa.Outbound{wa.TextMessage(processingApology)}); terr != nil {
			logger.Q.Error("apology delivery failed", "event", "queue.process", "err", terr)
		}
		return
	}

	delay := p.cfg.Backoff << (attempt - 1)
	if rerr := p.store.Retry(ctx, job.ID, attempt, delay, err); rerr != nil {
		logger.Q.Error("reschedule failed", "event", "queue.retry", "err", rerr)
		return
	}
	logger.Q.Warn("message retry scheduled",
		"event", "queue.process",
		"status", "retry",
		"attempt", attempt,
		"max_attempts", job.MaxAttempts,
		"backoff_ms", delay.Milliseconds(),
		"err", err)
}

// process runs one job end to end under the sender's lease: load the
// session, run the engine, deliver replies, persist the new state, then
// acknowledge the message.
func (p *Pool) process(ctx context.Context, job *Job) error {
	msg := job.Payload.Message
	contactName := ""
	if job.Payload.Contact != nil {
		contactName = job.Payload.Contact.Profile.Name
	}

	release := p.locker.Acquire(msg.From)
	defer release()

	sess, created, err := p.sessions.GetOrCreate(ctx, msg.From, contactName)
	if err != nil {
		return err
	}
	ctx = logger.WithSessionID(ctx, sess.ID)

	if created && p.directory != nil {
		p.linkUser(ctx, sess)
	}

	content := wa.ExtractContent(msg)

	// Tag downstream log lines with the flow that owns this message.
	ctx = logger.WithHandler(ctx, string(sess.State.Flow))

	result := p.engine.Process(ctx, &flow.Context{
		Session:   sess,
		Content:   content,
		MessageID: msg.ID,
	})

	if err := p.dispatcher.Deliver(ctx, msg.From, result.Messages); err != nil {
		return err
	}

	if err := p.sessions.Update(ctx, msg.From, result.State); err != nil {
		return err
	}

	if p.reader != nil {
		// Blue ticks are cosmetic; a failure here never fails the job.
		if err := p.reader.MarkAsRead(ctx, msg.ID); err != nil {
			logger.Q.Warn("mark-as-read failed", "event", "queue.read", "err", err)
		}
	}

	logger.Q.Debug("responses sent",
		"event", "queue.process",
		"messages", len(result.Messages),
		"flow", string(result.State.Flow),
		"step", result.State.Step)
	return nil
}

// linkUser binds a fresh session to an existing account for this phone
// number, preselecting the pet when there is exactly one. Lookup failures
// are ignored; onboarding creates the account later.
func (p *Pool) linkUser(ctx context.Context, sess *session.Session) {
	user, err := p.directory.UserByPhone(ctx, sess.PhoneNumber)
	if err != nil {
		if !errors.Is(err, clients.ErrNotFound) {
			logger.Q.Warn("user lookup failed", "event", "queue.link", "err", err)
		}
		return
	}

	if err := p.sessions.SetLinkedUser(ctx, sess.PhoneNumber, user.ID); err != nil {
		logger.Q.Warn("user link failed", "event", "queue.link", "err", err)
		return
	}
	sess.UserID = user.ID

	pets, err := p.directory.Pets(ctx, user.ID)
	if err != nil {
		logger.Q.Warn("pets lookup failed", "event", "queue.link", "err", err)
		return
	}
	if len(pets) == 1 {
		if err := p.sessions.SetActivePet(ctx, sess.PhoneNumber, pets[0].ID); err != nil {
			logger.Q.Warn("active pet link failed", "event", "queue.link", "err", err)
			return
		}
		sess.ActivePetID = pets[0].ID
	}

	logger.Q.Debug("session linked",
		"event", "queue.link",
		"user_id", user.ID,
		"count", len(pets))
}
