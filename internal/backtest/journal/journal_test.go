package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/quantforge/backsim/internal/types"
)

type JournalTestSuite struct {
	suite.Suite

	journal *Journal
}

func TestJournalSuite(t *testing.T) {
	suite.Run(t, new(JournalTestSuite))
}

func (s *JournalTestSuite) SetupTest() {
	journal, err := NewJournal("", nil)
	s.Require().NoError(err)
	s.journal = journal
}

func (s *JournalTestSuite) TearDownTest() {
	s.NoError(s.journal.Close())
}

func (s *JournalTestSuite) sampleTrade(side types.PurchaseType, at time.Time) types.SimulatedTrade {
	return types.SimulatedTrade{
		ID:         uuid.New().String(),
		Symbol:     "TEST",
		Side:       side,
		Quantity:   10,
		Price:      100,
		Timestamp:  at,
		Fee:        1,
		TotalValue: 1000,
		Reason:     types.TradeReasonSignal,
	}
}

func (s *JournalTestSuite) TestRecordAndReadBack() {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	entry := s.sampleTrade(types.PurchaseTypeBuy, start)
	exit := s.sampleTrade(types.PurchaseTypeSell, start.AddDate(0, 0, 1))
	exit.Reason = types.TradeReasonStopLoss

	s.Require().NoError(s.journal.RecordTrade(entry))
	s.Require().NoError(s.journal.RecordTrade(exit))

	trades, err := s.journal.Trades()
	s.Require().NoError(err)
	s.Require().Len(trades, 2)

	s.Equal(entry.ID, trades[0].ID)
	s.Equal(types.PurchaseTypeBuy, trades[0].Side)
	s.Equal(entry.Timestamp, trades[0].Timestamp)
	s.Equal(types.TradeReasonStopLoss, trades[1].Reason)
}

func (s *JournalTestSuite) TestExportParquet() {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.journal.RecordTrade(s.sampleTrade(types.PurchaseTypeBuy, start)))

	path := filepath.Join(s.T().TempDir(), "trades.parquet")
	s.Require().NoError(s.journal.ExportParquet(path))

	info, err := os.Stat(path)
	s.Require().NoError(err)
	s.Positive(info.Size())
}

func (s *JournalTestSuite) TestExportCSV() {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.journal.RecordTrade(s.sampleTrade(types.PurchaseTypeSell, start)))

	path := filepath.Join(s.T().TempDir(), "trades.csv")
	s.Require().NoError(s.journal.ExportCSV(path))

	data, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Contains(string(data), "SELL")
}

func (s *JournalTestSuite) TestEmptyJournal() {
	trades, err := s.journal.Trades()
	s.Require().NoError(err)
	s.Empty(trades)
}
