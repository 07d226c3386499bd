package services

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/imyashkale/fleetd/internal/constraints"
	"github.com/imyashkale/fleetd/internal/lock"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/metrics"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/imyashkale/fleetd/internal/registry"
	"github.com/imyashkale/fleetd/internal/repository"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// historyTimeout bounds writes to the history store after an execution
const historyTimeout = 10 * time.Second

// TriggerRequest carries the facts of one inbound trigger
type TriggerRequest struct {
	Name         string
	Header       http.Header
	Body         []byte
	PeerIP       netip.Addr
	ForwardedFor string
	Subject      string
}

// DeployService runs the trigger pipeline: signature, access constraints,
// name resolution, skip filters, lock, execution and history.
type DeployService struct {
	locks    *lock.Table
	executor *Executor
	history  repository.ExecutionRepository
	clock    clock.Clock
	metrics  *metrics.Metrics
	baseCtx  context.Context
}

// NewDeployService creates the service. Executions run under baseCtx, not
// the request context, so a disconnecting caller does not abort a deploy.
// Cancelling baseCtx kills running executions.
func NewDeployService(
	baseCtx context.Context,
	locks *lock.Table,
	executor *Executor,
	history repository.ExecutionRepository,
	clk clock.Clock,
	m *metrics.Metrics,
) *DeployService {
	if clk == nil {
		clk = clock.WallClock
	}
	return &DeployService{
		locks:    locks,
		executor: executor,
		history:  history,
		clock:    clk,
		metrics:  m,
		baseCtx:  baseCtx,
	}
}

// DetectSource names the sender of a webhook from its headers
func DetectSource(h http.Header) (source, event string) {
	switch {
	case h.Get("X-GitHub-Event") != "":
		return "github", h.Get("X-GitHub-Event")
	case h.Get("X-Gitlab-Event") != "":
		return "gitlab", h.Get("X-Gitlab-Event")
	case h.Get("X-Gitea-Event") != "":
		return "gitea", h.Get("X-Gitea-Event")
	case h.Get("X-Event-Key") != "":
		return "bitbucket", h.Get("X-Event-Key")
	}
	return "manual", ""
}

// Trigger runs the full pipeline for one request against snap. It returns
// the execution record when one was created (skipped, rejected or run) and
// an error for every outcome other than success or skip.
func (s *DeployService) Trigger(snap *registry.Snapshot, req TriggerRequest) (*models.ExecutionRecord, error) {
	return s.process(snap, req, models.OperationDeploy)
}

// Shutdown runs the shutdown commands of a deployment. It passes the same
// signature, access and lock gates as Trigger. Event and branch filters do
// not apply since a shutdown is not a push.
func (s *DeployService) Shutdown(snap *registry.Snapshot, req TriggerRequest) (*models.ExecutionRecord, error) {
	return s.process(snap, req, models.OperationShutdown)
}

func (s *DeployService) process(snap *registry.Snapshot, req TriggerRequest, op models.Operation) (*models.ExecutionRecord, error) {
	source, event := DetectSource(req.Header)
	ref := constraints.ParseRef(req.Body)
	trigger := models.Trigger{
		Source:       source,
		Event:        event,
		Ref:          ref,
		PeerIP:       req.PeerIP.String(),
		ForwardedFor: req.ForwardedFor,
		Subject:      req.Subject,
	}

	log := logger.WithFields(logrus.Fields{
		"deployment": req.Name,
		"operation":  op,
		"source":     source,
		"peer_ip":    trigger.PeerIP,
	})

	if v := snap.Verifier(req.Name); v != nil {
		if err := v.Verify(req.Header, req.Body); err != nil {
			s.metrics.IncRejection(models.CodeSignatureInvalid)
			log.Warn("Trigger rejected: invalid signature")
			return nil, err
		}
	}

	binding := snap.Binding(req.Name)
	now := s.clock.Now()

	if err := constraints.CheckAccess(binding, req.PeerIP, now); err != nil {
		var v *constraints.Violation
		reason := models.CodeConstraintViolated
		if errors.As(err, &v) {
			reason = string(v.Reason)
		}
		s.metrics.IncRejection(reason)
		log.WithField("reason", reason).Warn("Trigger rejected by constraint")

		if def, resolveErr := snap.Resolve(req.Name); resolveErr == nil {
			rec := models.NewExecutionRecord(def.Name, trigger, now)
			rec.Operation = op
			rec.Kind = def.Kind()
			rec.Finish(models.StatusRejected, reason, now)
			s.save(rec)
			return rec, err
		}
		return nil, err
	}

	def, err := snap.Resolve(req.Name)
	if err != nil {
		s.metrics.IncRejection(models.CodeDeploymentNotFound)
		return nil, err
	}

	if op == models.OperationDeploy {
		if skip := constraints.CheckTrigger(binding, def, constraints.TriggerFacts{Ref: ref, Event: event}); skip != nil {
			rec := models.NewExecutionRecord(def.Name, trigger, now)
			rec.Kind = def.Kind()
			rec.Finish(models.StatusSkipped, string(skip.Reason), now)
			s.save(rec)
			s.metrics.ObserveExecution(def.Name, string(models.StatusSkipped), 0)
			log.WithFields(logrus.Fields{"reason": skip.Reason, "ref": ref}).Info("Trigger skipped")
			return rec, nil
		}
	}

	if err := s.locks.TryAcquire(def.Name); err != nil {
		if errors.Is(err, lock.ErrBusy) {
			s.metrics.IncRejection(models.CodeDeploymentBusy)
			log.Info("Trigger rejected: deployment already running")
		}
		return nil, err
	}
	defer s.locks.Release(def.Name)

	rec := models.NewExecutionRecord(def.Name, trigger, now)
	limits := Limits{
		DefaultTimeout: snap.Settings.DefaultTimeout,
		MaxTimeout:     snap.Settings.MaxTimeout,
		OutputLimit:    snap.Settings.OutputLimit,
	}

	var execErr error
	if op == models.OperationShutdown {
		execErr = s.executor.Shutdown(s.baseCtx, def, rec, limits)
	} else {
		execErr = s.executor.Execute(s.baseCtx, def, rec, limits)
	}

	s.metrics.ObserveExecution(def.Name, string(rec.Status), time.Duration(rec.DurationMs)*time.Millisecond)
	s.save(rec)
	return rec, execErr
}

// History lists past executions, newest first
func (s *DeployService) History(ctx context.Context, deployment string, limit int) ([]*models.ExecutionRecord, error) {
	return s.history.List(ctx, strings.TrimSpace(deployment), limit)
}

// Busy reports whether name is currently executing
func (s *DeployService) Busy(name string) bool {
	return s.locks.Held(name)
}

func (s *DeployService) save(rec *models.ExecutionRecord) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), historyTimeout)
	defer cancel()

	if err := s.history.Save(ctx, rec); err != nil {
		logger.WithFields(logrus.Fields{
			"execution_id": rec.ID,
			"deployment":   rec.Deployment,
			"error":        err.Error(),
		}).Error("Failed to record execution history")
	}
}
