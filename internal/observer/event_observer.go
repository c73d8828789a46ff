package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// JobEvent represents a job lifecycle event
type JobEvent struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	JobID        string                 `json:"job_id"`
	Attempt      int                    `json:"attempt,omitempty"`
	Stage        string                 `json:"stage,omitempty"`
	Page         int                    `json:"page,omitempty"`
	Duration     time.Duration          `json:"duration,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of job event
type EventType string

const (
	JobSubmitted   EventType = "job_submitted"
	StageStarted   EventType = "stage_started"
	StageCompleted EventType = "stage_completed"
	JobReviewing   EventType = "job_reviewing"
	JobCompleted   EventType = "job_completed"
	JobFailed      EventType = "job_failed"
	JobCancelled   EventType = "job_cancelled"
	PageExcluded   EventType = "page_excluded"
	PageDegraded   EventType = "page_degraded"
	PageReviewed   EventType = "page_reviewed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event JobEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event JobEvent)
}

// LoggingObserver logs job events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles job events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event JobEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"job_id":     event.JobID,
	}
	if event.Attempt > 0 {
		fields["attempt"] = event.Attempt
	}
	if event.Stage != "" {
		fields["stage"] = event.Stage
	}
	if event.Page > 0 {
		fields["page"] = event.Page
	}
	if event.Duration > 0 {
		fields["duration"] = event.Duration.String()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case JobSubmitted:
		entry.Info("Job submitted")
	case StageStarted:
		entry.Info("Stage started")
	case StageCompleted:
		entry.Info("Stage completed")
	case JobReviewing:
		entry.Info("Job waiting for review")
	case JobCompleted:
		entry.Info("Job completed")
	case JobFailed:
		entry.Error("Job failed")
	case JobCancelled:
		entry.Warn("Job cancelled")
	case PageExcluded:
		entry.Warn("Page excluded")
	case PageDegraded:
		entry.Warn("Page degraded to image only")
	case PageReviewed:
		entry.Debug("Page reviewed")
	default:
		entry.Info("Job event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from job events
type MetricsObserver struct {
	mu            sync.RWMutex
	submitted     int64
	completed     int64
	failed        int64
	cancelled     int64
	reviewing     int64
	excluded      int64
	degraded      int64
	reviewed      int64
	stageRuns     map[string]int64
	stageDuration map[string]time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		stageRuns:     make(map[string]int64),
		stageDuration: make(map[string]time.Duration),
	}
}

// OnEvent handles job events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event JobEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case JobSubmitted:
		o.submitted++
	case JobCompleted:
		o.completed++
	case JobFailed:
		o.failed++
	case JobCancelled:
		o.cancelled++
	case JobReviewing:
		o.reviewing++
	case PageExcluded:
		o.excluded++
	case PageDegraded:
		o.degraded++
	case PageReviewed:
		o.reviewed++
	case StageCompleted:
		o.stageRuns[event.Stage]++
		o.stageDuration[event.Stage] += event.Duration
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stages := make(map[string]interface{}, len(o.stageRuns))
	for stage, runs := range o.stageRuns {
		avg := time.Duration(0)
		if runs > 0 {
			avg = o.stageDuration[stage] / time.Duration(runs)
		}
		stages[stage] = map[string]interface{}{
			"runs":         runs,
			"avg_duration": avg.String(),
		}
	}

	return map[string]interface{}{
		"jobs_submitted": o.submitted,
		"jobs_completed": o.completed,
		"jobs_failed":    o.failed,
		"jobs_cancelled": o.cancelled,
		"jobs_reviewing": o.reviewing,
		"pages_excluded": o.excluded,
		"pages_degraded": o.degraded,
		"pages_reviewed": o.reviewed,
		"stages":         stages,
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event. Observers run
// concurrently and never block the publisher.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event JobEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		go func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
