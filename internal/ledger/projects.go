package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/models"
)

// CreateProject registers a project bound to the creator's account. It starts
// awaiting approval, ongoing and with no funding.
func (e *Engine) CreateProject(ctx context.Context, creatorID, title string, goal decimal.Decimal) (models.Project, error) {
	if err := validateAmount(goal); err != nil {
		return models.Project{}, err
	}
	account, err := e.store.GetAccountByOwner(ctx, creatorID)
	if err != nil {
		return models.Project{}, storeErr(err)
	}

	now := e.Now()
	project := models.Project{
		ID:             uuid.New().String(),
		CreatorID:      creatorID,
		AccountID:      account.ID,
		Title:          title,
		FundingGoal:    goal,
		CurrentFunding: decimal.Zero,
		Status:         models.StatusOngoing,
		Approval:       models.ApprovalAwaiting,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		return tx.CreateProject(ctx, project)
	})
	if err != nil {
		return models.Project{}, storeErr(err)
	}
	e.logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("account_id", project.AccountID),
		zap.String("funding_goal", goal.String()),
	)
	return project, nil
}

func (e *Engine) CreateReward(ctx context.Context, projectID string, threshold decimal.Decimal, description string) (models.Reward, error) {
	if err := validateAmount(threshold); err != nil {
		return models.Reward{}, err
	}
	reward := models.Reward{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Threshold:   threshold,
		Description: description,
		CreatedAt:   e.Now(),
	}
	err := func() error {
		unlock := e.locks.acquire(projectKey(projectID))
		defer unlock()
		return e.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
			if _, err := tx.LockProject(ctx, projectID); err != nil {
				return err
			}
			return tx.CreateReward(ctx, reward)
		})
	}()
	if err != nil {
		return models.Reward{}, storeErr(err)
	}
	return reward, nil
}

func (e *Engine) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	p, err := e.store.GetProject(ctx, projectID)
	return p, storeErr(err)
}

// UpdateProjectState applies mutate to the locked project and persists its
// approval, status and blocked flag. Changes mutate makes to CurrentFunding
// are discarded; only Pay and Refund write it.
func (e *Engine) UpdateProjectState(ctx context.Context, projectID string, mutate func(p *models.Project) error) (models.Project, error) {
	var updated models.Project
	err := func() error {
		unlock := e.locks.acquire(projectKey(projectID))
		defer unlock()

		now := e.Now()
		return e.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
			current, err := tx.LockProject(ctx, projectID)
			if err != nil {
				return err
			}
			next := current
			if err := mutate(&next); err != nil {
				return err
			}
			next.ID = current.ID
			next.CurrentFunding = current.CurrentFunding
			next.UpdatedAt = now
			if err := tx.UpdateProjectState(ctx, next); err != nil {
				return fmt.Errorf("update project %s: %w", projectID, err)
			}
			updated = next
			return nil
		})
	}()
	if err != nil {
		return models.Project{}, storeErr(err)
	}
	return updated, nil
}
