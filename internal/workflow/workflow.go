// Package workflow drives a project through approval and lifecycle status
// changes. Rejecting or failing a project blocks it and refunds every active
// contribution.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	eventbus "github.com/sheikh-saqib/crowdfunding-ledger/internal/events"
	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/logger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/metrics"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models/events"
)

// Update carries the requested values; nil fields are left unchanged.
type Update struct {
	Approval *models.ApprovalStatus `json:"approval,omitempty"`
	Status   *models.ProjectStatus  `json:"status,omitempty"`
}

type RefundFailure struct {
	FundingID string          `json:"funding_id"`
	SponsorID string          `json:"sponsor_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Err       error           `json:"-"`
}

type Result struct {
	ProjectID        string                `json:"project_id"`
	Approval         models.ApprovalStatus `json:"approval"`
	Status           models.ProjectStatus  `json:"status"`
	Blocked          bool                  `json:"blocked"`
	CurrentFunding   *decimal.Decimal      `json:"current_funding,omitempty"` // nil if it could not be read back
	RefundsProcessed int                   `json:"refunds_processed"`
	RefundsSkipped   int                   `json:"refunds_skipped"`
	Failures         []RefundFailure       `json:"failures"`
}

// PartiallyFailed reports whether some refunds of the cascade failed. The
// state change itself and every other refund have been committed.
func (r Result) PartiallyFailed() bool {
	return len(r.Failures) > 0
}

type Service struct {
	engine    *ledger.Engine
	store     interfaces.LedgerReader
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	workers   int
}

// NewService builds the workflow. workers bounds how many refunds of one
// cascade run at the same time.
func NewService(engine *ledger.Engine, store interfaces.LedgerReader, publisher interfaces.EventPublisher, log *zap.Logger, m *metrics.Metrics, workers int) *Service {
	if publisher == nil {
		publisher = eventbus.Nop{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Service{
		engine:    engine,
		store:     store,
		publisher: publisher,
		logger:    logger.OrNop(log),
		metrics:   m,
		workers:   workers,
	}
}

func (s *Service) UpdateApproval(ctx context.Context, actor models.Actor, projectID string, approval models.ApprovalStatus) (Result, error) {
	return s.UpdateProject(ctx, actor, projectID, Update{Approval: &approval})
}

func (s *Service) UpdateStatus(ctx context.Context, actor models.Actor, projectID string, status models.ProjectStatus) (Result, error) {
	return s.UpdateProject(ctx, actor, projectID, Update{Status: &status})
}

// UpdateProject applies the approval and then the status of u as one state
// change. If the result rejects or fails the project, every active funding
// record is refunded, each in its own unit of work. A failed refund does not
// stop the others; it is reported in Result.Failures.
func (s *Service) UpdateProject(ctx context.Context, actor models.Actor, projectID string, u Update) (Result, error) {
	if err := requireAdmin(actor); err != nil {
		return Result{}, err
	}
	if u.Approval == nil && u.Status == nil {
		return Result{}, fmt.Errorf("%w: nothing to update", ErrInvalidState)
	}

	project, err := s.engine.UpdateProjectState(ctx, projectID, func(p *models.Project) error {
		if u.Approval != nil {
			if err := checkApproval(p.Approval, *u.Approval); err != nil {
				return err
			}
			p.Approval = *u.Approval
		}
		if u.Status != nil {
			if err := checkStatus(p.Status, *u.Status); err != nil {
				return err
			}
			p.Status = *u.Status
		}
		if closesProject(*p) {
			p.Blocked = true
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("project state changed",
		zap.String("project_id", project.ID),
		zap.String("actor_id", actor.ID),
		zap.String("approval", string(project.Approval)),
		zap.String("status", string(project.Status)),
		zap.Bool("blocked", project.Blocked),
	)

	result := Result{
		ProjectID: project.ID,
		Approval:  project.Approval,
		Status:    project.Status,
		Blocked:   project.Blocked,
		Failures:  []RefundFailure{},
	}
	if triggersCascade(u) {
		if err := s.refundAll(ctx, actor, project.ID, &result); err != nil {
			return result, err
		}
	}

	current, err := s.store.GetProject(ctx, project.ID)
	if err != nil {
		// the change and its refunds are committed; only the report is short
		s.logger.Warn("failed to read back project funding",
			zap.String("project_id", project.ID),
			zap.Error(err),
		)
	} else {
		result.CurrentFunding = &current.CurrentFunding
	}
	s.publish(ctx, actor, result)
	return result, nil
}

func (s *Service) refundAll(ctx context.Context, actor models.Actor, projectID string, result *Result) error {
	records, err := s.store.ListFundingByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list funding of project %s: %w", projectID, err)
	}

	active := make([]models.FundingRecord, 0, len(records))
	for _, r := range records {
		if !r.Reversed() {
			active = append(active, r)
		}
	}

	// one slot per record keeps the report in pledge order
	outcomes := make([]error, len(active))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, record := range active {
		i, record := i, record
		g.Go(func() error {
			_, err := s.engine.Refund(ctx, ledger.RefundRequest{FundingID: record.ID, Actor: actor})
			outcomes[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range outcomes {
		record := active[i]
		switch {
		case err == nil:
			result.RefundsProcessed++
		case errors.Is(err, ledger.ErrAlreadyRefunded):
			result.RefundsSkipped++
		default:
			result.Failures = append(result.Failures, RefundFailure{
				FundingID: record.ID,
				SponsorID: record.SponsorID,
				Amount:    record.Amount,
				Reason:    err.Error(),
				Err:       err,
			})
			s.logger.Warn("cascading refund failed",
				zap.String("project_id", projectID),
				zap.String("funding_id", record.ID),
				zap.String("sponsor_id", record.SponsorID),
				zap.String("amount", record.Amount.String()),
				zap.Error(err),
			)
		}
	}

	s.metrics.AddRefunds("refunded", result.RefundsProcessed)
	s.metrics.AddRefunds("skipped", result.RefundsSkipped)
	s.metrics.AddRefunds("failed", len(result.Failures))
	s.logger.Info("cascading refund finished",
		zap.String("project_id", projectID),
		zap.Int("refunded", result.RefundsProcessed),
		zap.Int("skipped", result.RefundsSkipped),
		zap.Int("failed", len(result.Failures)),
	)
	return nil
}

func (s *Service) publish(ctx context.Context, actor models.Actor, result Result) {
	event := events.ProjectStateChanged{
		ProjectID:        result.ProjectID,
		ActorID:          actor.ID,
		Approval:         string(result.Approval),
		Status:           string(result.Status),
		Blocked:          result.Blocked,
		RefundsProcessed: result.RefundsProcessed,
		RefundsFailed:    len(result.Failures),
		OccurredAt:       s.engine.Now(),
	}
	if err := s.publisher.Publish(ctx, events.TopicProjectStateChanged, result.ProjectID, event); err != nil {
		s.logger.Warn("failed to publish project state event",
			zap.String("project_id", result.ProjectID),
			zap.Error(err),
		)
	}
}

// CreateProject registers a project owned by actor. Only beneficiaries and
// admins run projects, and the creator needs an account to receive funds.
func (s *Service) CreateProject(ctx context.Context, actor models.Actor, title string, goal decimal.Decimal) (models.Project, error) {
	if actor.IsZero() {
		return models.Project{}, ledger.ErrUnauthorized
	}
	if actor.Role != models.RoleBeneficiary && !actor.IsAdmin() {
		return models.Project{}, fmt.Errorf("%w: role %s cannot create projects", ledger.ErrForbidden, actor.Role)
	}
	return s.engine.CreateProject(ctx, actor.ID, title, goal)
}

// CreateReward adds a reward tier to a project. Only the creator or an admin
// may do so.
func (s *Service) CreateReward(ctx context.Context, actor models.Actor, projectID string, threshold decimal.Decimal, description string) (models.Reward, error) {
	if actor.IsZero() {
		return models.Reward{}, ledger.ErrUnauthorized
	}
	project, err := s.engine.GetProject(ctx, projectID)
	if err != nil {
		return models.Reward{}, err
	}
	if !actor.IsAdmin() && actor.ID != project.CreatorID {
		return models.Reward{}, fmt.Errorf("%w: actor %s does not run project %s", ledger.ErrForbidden, actor.ID, projectID)
	}
	return s.engine.CreateReward(ctx, projectID, threshold, description)
}

func requireAdmin(actor models.Actor) error {
	if actor.IsZero() {
		return ledger.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: project state changes require an admin", ledger.ErrForbidden)
	}
	return nil
}
