package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"positionbot/internal/models"
)

func TestTradeRepositorySaveTrade(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "successful save assigns id",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO trades").
					WithArgs("p1", int64(1), "BTCUSDT", models.SideLong, 0.1,
						50000.0, 49500.0, -50.0, models.CloseReasonStopLoss,
						sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
			},
			wantErr: false,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO trades").
					WillReturnError(errors.New("connection lost"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			closedAt := time.Now().UTC()
			trade := &models.TradeRecord{
				PositionID: "p1",
				UserID:     1,
				Symbol:     "BTCUSDT",
				Side:       models.SideLong,
				Quantity:   0.1,
				EntryPrice: 50000,
				ExitPrice:  49500,
				Pnl:        -50,
				Reason:     models.CloseReasonStopLoss,
				CreatedAt:  closedAt,
				ClosedAt:   &closedAt,
			}

			repo := NewTradeRepository(db)
			err = repo.SaveTrade(context.Background(), trade)
			if (err != nil) != tt.wantErr {
				t.Errorf("SaveTrade() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && trade.ID != 42 {
				t.Errorf("trade.ID = %d, want 42", trade.ID)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryPerformanceSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	from := time.Now().UTC().AddDate(0, 0, -30)

	mock.ExpectQuery("SELECT (.+) FROM trades").
		WithArgs(int64(1), from, models.CloseReasonPartialTP, models.CloseReasonEmergency).
		WillReturnRows(sqlmock.NewRows([]string{"count", "wins", "avg_win", "avg_loss"}).
			AddRow(25, 15, 120.0, 80.0))
	mock.ExpectQuery("SELECT (.+) FROM trades").
		WithArgs(int64(1), from).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).
			AddRow(150.0).AddRow(-40.0).AddRow(210.0))

	repo := NewTradeRepository(db)
	sample, err := repo.PerformanceSince(context.Background(), 1, from)
	if err != nil {
		t.Fatalf("PerformanceSince() error = %v", err)
	}

	if sample.Trades != 25 || sample.Wins != 15 {
		t.Errorf("trades/wins = %d/%d, want 25/15", sample.Trades, sample.Wins)
	}
	if sample.AvgWin != 120 || sample.AvgLoss != 80 {
		t.Errorf("avg win/loss = %v/%v, want 120/80", sample.AvgWin, sample.AvgLoss)
	}
	if winRate := sample.WinRate(); winRate != 0.6 {
		t.Errorf("win rate = %v, want 0.6", winRate)
	}
	if len(sample.DailyPnl) != 3 || sample.DailyPnl[1] != -40 {
		t.Errorf("daily pnl = %v", sample.DailyPnl)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTradeRepositoryStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM trades").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"total", "total_pnl", "today", "today_pnl", "week", "week_pnl",
			"month", "month_pnl", "avg_win", "avg_loss", "wins",
		}).AddRow(100, 1500.0, 3, 45.0, 20, 300.0, 80, 1200.0, 90.0, 60.0, 55))
	mock.ExpectQuery("SELECT reason, (.+) FROM trades").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"reason", "count"}).
			AddRow(models.CloseReasonTakeProfit, 40).
			AddRow(models.CloseReasonStopLoss, 35).
			AddRow(models.CloseReasonTimeExit, 25))

	repo := NewTradeRepository(db)
	stats, err := repo.Stats(context.Background(), 1)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.TotalTrades != 100 || stats.TotalPnl != 1500 {
		t.Errorf("totals = %d/%v, want 100/1500", stats.TotalTrades, stats.TotalPnl)
	}
	if stats.WinRate != 0.55 {
		t.Errorf("win rate = %v, want 0.55", stats.WinRate)
	}
	if stats.ClosesByReason[models.CloseReasonTakeProfit] != 40 {
		t.Errorf("closes by reason = %v", stats.ClosesByReason)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
