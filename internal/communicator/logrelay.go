package communicator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	relayQueueSize     = 256
	relayRequestWindow = 5 * time.Second
)

type relayKind int

const (
	relayLog relayKind = iota
	relayStatus
)

type relayJob struct {
	id           string
	kind         relayKind
	deploymentID string
	log          DeploymentLog
	status       DeploymentStatus
}

// LogRelay pushes deployment logs and status transitions to the control
// plane on a best-effort basis. Sends are queued on a bounded channel and
// delivered by a single worker; when the queue is full the message is
// dropped. Ordering is not guaranteed and failures never reach the caller.
type LogRelay struct {
	client *Client
	logger *zap.Logger
	queue  chan relayJob
}

func NewLogRelay(client *Client, logger *zap.Logger) *LogRelay {
	return &LogRelay{
		client: client,
		logger: logger,
		queue:  make(chan relayJob, relayQueueSize),
	}
}

// SendLog enqueues one log line for a deployment.
func (r *LogRelay) SendLog(deploymentID, message, level, step string) {
	r.enqueue(relayJob{
		id:           uuid.NewString(),
		kind:         relayLog,
		deploymentID: deploymentID,
		log: DeploymentLog{
			Message:   message,
			Level:     level,
			Timestamp: time.Now().UnixMilli(),
			Step:      step,
		},
	})
}

// UpdateStatus enqueues a deployment status transition.
func (r *LogRelay) UpdateStatus(deploymentID, status, message string) {
	r.enqueue(relayJob{
		id:           uuid.NewString(),
		kind:         relayStatus,
		deploymentID: deploymentID,
		status:       DeploymentStatus{Status: status, Message: message},
	})
}

func (r *LogRelay) enqueue(job relayJob) {
	select {
	case r.queue <- job:
	default:
		r.logger.Debug("log relay queue full, dropping message",
			zap.String("message_id", job.id),
			zap.String("deployment_id", job.deploymentID),
		)
	}
}

// Run delivers queued messages until ctx is cancelled, then drains whatever
// is left in the queue before returning.
func (r *LogRelay) Run(ctx context.Context) {
	for {
		select {
		case job := <-r.queue:
			r.deliver(job)
		case <-ctx.Done():
			for {
				select {
				case job := <-r.queue:
					r.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (r *LogRelay) deliver(job relayJob) {
	ctx, cancel := context.WithTimeout(context.Background(), relayRequestWindow)
	defer cancel()

	var err error
	switch job.kind {
	case relayLog:
		err = r.client.SendDeploymentLog(ctx, job.deploymentID, job.log)
	case relayStatus:
		err = r.client.UpdateDeploymentStatus(ctx, job.deploymentID, job.status)
	}
	if err != nil {
		r.logger.Debug("log relay delivery failed",
			zap.String("message_id", job.id),
			zap.String("deployment_id", job.deploymentID),
			zap.Error(err),
		)
	}
}
