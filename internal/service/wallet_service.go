package service

import (
	"context"
	"errors"

	"rewardsys/internal/model"
	"rewardsys/internal/repository"

	"gorm.io/gorm"
)

type WalletService struct {
	db         *gorm.DB
	walletRepo *repository.WalletRepository
	ledgerRepo *repository.LedgerRepository
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{
		db:         db,
		walletRepo: repository.NewWalletRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

func (s *WalletService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return wallet.Balance, nil
}

func (s *WalletService) GetWallet(ctx context.Context, tenantID, userID int64) (*model.Wallet, error) {
	return s.walletRepo.GetOrCreate(ctx, tenantID, userID)
}

// ListLedger 钱包流水（审计浏览）
func (s *WalletService) ListLedger(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletLedger, int64, error) {
	return s.ledgerRepo.ListWalletLedger(ctx, userID, page, pageSize)
}
