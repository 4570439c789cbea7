package jobs

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Runner owns the asynq scheduler that enqueues warm tasks and the server
// that processes them, both inside the API process so they share its caches.
type Runner struct {
	srv   *asynq.Server
	sched *asynq.Scheduler
	mux   *asynq.ServeMux
	task  *asynq.Task
	log   zerolog.Logger
}

type RunnerOptions struct {
	RedisAddr string
	Schedule  string
	Location  *time.Location
	// Days is how many days from today each scheduled run warms; it should
	// cover the bootstrap document
	Days    int
	Handler asynq.Handler
	Logger  zerolog.Logger
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	opt := asynq.RedisClientOpt{Addr: opts.RedisAddr}
	log := opts.Logger
	alog := asynqLogger{log: log.With().Str("component", "asynq").Logger()}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{QueueWarm: 1},
		Logger:      alog,
		LogLevel:    asynq.WarnLevel,
	})
	sched := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: opts.Location,
		Logger:   alog,
		LogLevel: asynq.WarnLevel,
	})

	task, err := NewWarmTask(WarmPayload{Days: max(opts.Days, 1)})
	if err != nil {
		return nil, err
	}
	if _, err := sched.Register(opts.Schedule, task); err != nil {
		return nil, fmt.Errorf("register warm schedule %q: %w", opts.Schedule, err)
	}

	mux := asynq.NewServeMux()
	mux.Handle(TaskWarmSnapshots, opts.Handler)
	return &Runner{srv: srv, sched: sched, mux: mux, task: task, log: log}, nil
}

func (r *Runner) Start() error {
	if err := r.srv.Start(r.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := r.sched.Start(); err != nil {
		r.srv.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	r.log.Info().Msg("warm scheduler running")
	return nil
}

func (r *Runner) Shutdown() {
	r.sched.Shutdown()
	r.srv.Shutdown()
}

// asynqLogger routes asynq's logging into zerolog
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
