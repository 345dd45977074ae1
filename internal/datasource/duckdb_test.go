package datasource

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/quantforge/backsim/pkg/errors"
)

type DuckDBDataSourceTestSuite struct {
	suite.Suite

	source  DataSource
	csvPath string
}

func TestDuckDBDataSourceSuite(t *testing.T) {
	suite.Run(t, new(DuckDBDataSourceTestSuite))
}

func (s *DuckDBDataSourceTestSuite) SetupTest() {
	source, err := NewDataSource("", nil)
	s.Require().NoError(err)
	s.source = source

	s.csvPath = filepath.Join(s.T().TempDir(), "bars.csv")
	s.writeCSV(s.csvPath)
}

func (s *DuckDBDataSourceTestSuite) TearDownTest() {
	s.NoError(s.source.Close())
}

func (s *DuckDBDataSourceTestSuite) writeCSV(path string) {
	file, err := os.Create(path)
	s.Require().NoError(err)
	defer file.Close()

	_, err = file.WriteString("time,symbol,open,high,low,close,volume\n")
	s.Require().NoError(err)

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		price := 100.0 + float64(i)
		_, err = fmt.Fprintf(file, "%s,TEST,%.2f,%.2f,%.2f,%.2f,%d\n",
			start.AddDate(0, 0, i).Format(time.RFC3339),
			price, price+1, price-1, price, 1000+i)
		s.Require().NoError(err)
	}
}

func (s *DuckDBDataSourceTestSuite) TestLoadBarsFromCSV() {
	s.Require().NoError(s.source.Initialize(s.csvPath))

	bars, err := s.source.LoadBars("TEST", optional.None[time.Time](), optional.None[time.Time]())
	s.Require().NoError(err)
	s.Require().Len(bars, 10)

	s.Equal("TEST", bars[0].Symbol)
	s.Equal(100.0, bars[0].Open)
	s.Equal(101.0, bars[0].High)
	s.Equal(99.0, bars[0].Low)
	s.Equal(1000.0, bars[0].Volume)

	for i := 1; i < len(bars); i++ {
		s.True(bars[i].Time.After(bars[i-1].Time), "bars must be ordered ascending")
	}
}

func (s *DuckDBDataSourceTestSuite) TestCountWithTimeRange() {
	s.Require().NoError(s.source.Initialize(s.csvPath))

	count, err := s.source.Count(optional.None[time.Time](), optional.None[time.Time]())
	s.Require().NoError(err)
	s.Equal(10, count)

	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	count, err = s.source.Count(optional.Some(start), optional.Some(end))
	s.Require().NoError(err)
	s.Equal(4, count)
}

func (s *DuckDBDataSourceTestSuite) TestLoadBarsTimeRange() {
	s.Require().NoError(s.source.Initialize(s.csvPath))

	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	bars, err := s.source.LoadBars("TEST", optional.Some(start), optional.None[time.Time]())
	s.Require().NoError(err)
	s.Len(bars, 7)
	s.Equal(start, bars[0].Time)
}

func (s *DuckDBDataSourceTestSuite) TestUnknownSymbolNotFound() {
	s.Require().NoError(s.source.Initialize(s.csvPath))

	_, err := s.source.LoadBars("MISSING", optional.None[time.Time](), optional.None[time.Time]())
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (s *DuckDBDataSourceTestSuite) TestInitializeMissingFile() {
	err := s.source.Initialize(filepath.Join(s.T().TempDir(), "missing.csv"))
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeDataSourceUnavailable))
}
