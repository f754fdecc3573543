package service

import (
	"context"

	"rewardsys/internal/model"
	"rewardsys/internal/repository"

	"gorm.io/gorm"
)

type BudgetService struct {
	db         *gorm.DB
	budgetRepo *repository.BudgetRepository
	deptRepo   *repository.DepartmentBudgetRepository
	leadRepo   *repository.LeadAllocationRepository
	ledgerRepo *repository.LedgerRepository
}

func NewBudgetService(db *gorm.DB) *BudgetService {
	return &BudgetService{
		db:         db,
		budgetRepo: repository.NewBudgetRepository(db),
		deptRepo:   repository.NewDepartmentBudgetRepository(db),
		leadRepo:   repository.NewLeadAllocationRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

// BudgetSummary 信封总览：信封本体 + 各部门/负责人切片
type BudgetSummary struct {
	Budget      *model.Budget             `json:"budget"`
	Remaining   int64                     `json:"remaining"`
	Departments []*model.DepartmentBudget `json:"departments"`
	Leads       []*model.LeadAllocation   `json:"leads"`
}

func (s *BudgetService) GetBudgetSummary(ctx context.Context, budgetID int64) (*BudgetSummary, error) {
	budget, err := s.budgetRepo.GetByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	depts, err := s.deptRepo.ListByBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	leads, err := s.leadRepo.ListByBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	return &BudgetSummary{
		Budget:      budget,
		Remaining:   budget.RemainingPoints(),
		Departments: depts,
		Leads:       leads,
	}, nil
}

func (s *BudgetService) ListBudgets(ctx context.Context, tenantID int64, page, pageSize int) ([]*model.Budget, int64, error) {
	return s.budgetRepo.ListByTenant(ctx, tenantID, page, pageSize)
}

// ListAllocationLog 预算的分配流水（审计浏览）
func (s *BudgetService) ListAllocationLog(ctx context.Context, budgetID int64, page, pageSize int) ([]*model.AllocationLog, int64, error) {
	return s.ledgerRepo.ListAllocationLog(ctx, budgetID, page, pageSize)
}
