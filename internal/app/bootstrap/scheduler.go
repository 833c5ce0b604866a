package bootstrap

import (
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/config"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/dispatch"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/engine"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/history"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/optimizer"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/prediction"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/scheduler"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/simulation"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/statestore"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// Deps are the already-connected collaborators. Redis and History may be nil.
type Deps struct {
	Config    *appconfig.Config
	Logger    *logging.Logger
	Metrics   *metrics.SchedulerMetrics
	Redis     *redis.Client
	History   *history.Repository
	Transport *Transport
}

// Scheduler is the assembled worker.
type Scheduler struct {
	Manager    *engine.Manager
	Consumer   *dispatch.Consumer
	Prediction *prediction.Service
	States     *statestore.Store
}

// BuildPrediction wires the configured traffic and weather providers. A
// provider that cannot be created is skipped with a warning.
func BuildPrediction(cfg *appconfig.Config, hist prediction.HistorySource, m *metrics.SchedulerMetrics, logger *logging.Logger) *prediction.Service {
	if logger == nil {
		logger = logging.Default()
	}
	opts := []prediction.Option{
		prediction.WithMetrics(m),
		prediction.WithTimeout(cfg.PredictionTimeout),
		prediction.WithLookback(cfg.HistoryLookback),
	}
	if hist != nil {
		opts = append(opts, prediction.WithHistory(hist))
	}
	if cfg.GoogleMapsAPIKey != "" {
		traffic, err := prediction.NewGoogleTraffic(cfg.GoogleMapsAPIKey)
		if err != nil {
			logger.Warn("traffic provider disabled", "error", err)
		} else {
			opts = append(opts, prediction.WithTraffic(traffic))
		}
	}
	if cfg.WeatherBaseURL != "" {
		opts = append(opts, prediction.WithWeather(prediction.NewWeatherClient(cfg.WeatherBaseURL, cfg.WeatherAPIKey, logger)))
	}
	return prediction.NewService(logger, opts...)
}

// BuildScheduler assembles the engine, its stores and the queue consumer.
func BuildScheduler(d Deps) (*Scheduler, error) {
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = logging.Default()
	}
	params, err := cfg.SchedulerParams()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	out := &Scheduler{}
	var hist prediction.HistorySource
	if d.History != nil {
		hist = d.History
	}
	out.Prediction = BuildPrediction(cfg, hist, d.Metrics, logger)

	procOpts := []engine.ProcessorOption{
		engine.WithMetrics(d.Metrics),
		engine.WithBatchSize(cfg.EventBatchSize),
		engine.WithEscalation(prediction.NewPriorityClassifier()),
	}
	if d.Redis != nil {
		procOpts = append(procOpts, engine.WithThrottle(engine.NewRedisThrottle(d.Redis, logger)))
	} else {
		procOpts = append(procOpts, engine.WithThrottle(engine.NewMemoryThrottle()))
	}
	if d.History != nil {
		procOpts = append(procOpts, engine.WithRecorder(d.History))
	}
	if d.Transport != nil && d.Transport.Outbound != nil {
		procOpts = append(procOpts, engine.WithSink(dispatch.NewPublisher(d.Transport.Outbound, logger)))
	}
	if cfg.SimulationScenarios > 0 {
		simOpts := []simulation.Option{simulation.WithMetrics(d.Metrics)}
		if cfg.SimulationSeed != 0 {
			simOpts = append(simOpts, simulation.WithSeed(cfg.SimulationSeed))
		}
		sim := simulation.New(params, logger, simOpts...)
		procOpts = append(procOpts, engine.WithRiskAssessment(sim, cfg.SimulationScenarios, simulation.DefaultLimits()))
	}

	doctorLoc := cfg.DoctorLocation()
	mgrOpts := []engine.ManagerOption{
		engine.WithProcessorOptions(procOpts...),
		engine.WithManagerMetrics(d.Metrics),
		engine.WithLocation(loc),
		engine.WithDayCloseInterval(cfg.DayCloseInterval),
		engine.WithDoctorConfig(func(_ string, day time.Time) scheduler.DoctorConfig {
			dc := scheduler.DefaultDoctorConfig(day)
			if doctorLoc != nil {
				l := *doctorLoc
				dc.Location = &l
			}
			return dc
		}),
	}
	if d.Redis != nil {
		out.States = statestore.New(d.Redis, cfg.StateTTL)
		mgrOpts = append(mgrOpts, engine.WithSnapshots(out.States))
	}
	if d.Transport != nil && d.Transport.Archive.Enabled() {
		mgrOpts = append(mgrOpts, engine.WithArchiver(d.Transport.Archive))
	}
	out.Manager = engine.NewManager(optimizer.New(logger), params, logger, mgrOpts...)

	if d.Transport != nil && d.Transport.Inbound != nil {
		consumerOpts := []dispatch.ConsumerOption{
			dispatch.WithWorkerCount(cfg.WorkerCount),
			dispatch.WithEnricher(out.Prediction, doctorLoc),
			dispatch.WithConsumerMetrics(d.Metrics),
		}
		if d.Transport.Deduper != nil {
			consumerOpts = append(consumerOpts, dispatch.WithDeduper(d.Transport.Deduper))
		}
		if cfg.UseMemoryQueue {
			consumerOpts = append(consumerOpts, dispatch.WithReceiveWaitSeconds(1))
		}
		out.Consumer = dispatch.NewConsumer(d.Transport.Inbound, out.Manager, logger, consumerOpts...)
	}
	return out, nil
}
