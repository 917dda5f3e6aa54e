package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"railscan/readmodel"
)

// File references one artefact produced by an export run.
type File struct {
	Path     string
	Rows     int
	Checksum string
}

// Result summarises an export run. RunID names the output directory so
// successive runs never clobber each other.
type Result struct {
	RunID       uuid.UUID
	GeneratedAt time.Time
	Files       []File
}

// Exporter materialises point-in-time CSV and Parquet snapshots of rails,
// settlements and daily metrics from the read model.
type Exporter struct {
	db        *gorm.DB
	outputDir string
	log       *slog.Logger
}

func NewExporter(db *gorm.DB, outputDir string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	if outputDir == "" {
		outputDir = filepath.Join("railscan-data", "exports")
	}
	return &Exporter{db: db, outputDir: outputDir, log: logger.With("component", "exports")}
}

// Run executes one snapshot export.
func (e *Exporter) Run() (*Result, error) {
	runID := uuid.New()
	runDir := filepath.Join(e.outputDir, runID.String())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("exports: ensure output dir: %w", err)
	}
	result := &Result{RunID: runID, GeneratedAt: time.Now().UTC()}

	var rails []readmodel.RailRow
	if err := e.db.Order("rail_id").Find(&rails).Error; err != nil {
		return nil, fmt.Errorf("exports: load rails: %w", err)
	}
	files, err := e.writeRails(runDir, rails)
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, files...)

	var settlements []readmodel.SettlementRow
	if err := e.db.Order("tx_hash, log_index").Find(&settlements).Error; err != nil {
		return nil, fmt.Errorf("exports: load settlements: %w", err)
	}
	files, err = e.writeSettlements(runDir, settlements)
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, files...)

	var daily []readmodel.DailyMetricRow
	if err := e.db.Order("day").Find(&daily).Error; err != nil {
		return nil, fmt.Errorf("exports: load daily metrics: %w", err)
	}
	dailyFile, err := e.writeDailyMetrics(runDir, daily)
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, dailyFile)

	for _, f := range result.Files {
		e.log.Info("wrote export artefact", "path", f.Path, "rows", f.Rows, "checksum", f.Checksum)
	}
	return result, nil
}

// writeChecksummed persists data and returns the artefact record with its
// SHA-256 checksum.
func writeChecksummed(path string, data []byte, rows int) (File, error) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return File{}, fmt.Errorf("exports: write %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return File{Path: path, Rows: rows, Checksum: hex.EncodeToString(sum[:])}, nil
}

func (e *Exporter) writeRails(runDir string, rows []readmodel.RailRow) ([]File, error) {
	buffer := &bytes.Buffer{}
	cw := csv.NewWriter(buffer)
	header := []string{
		"rail_id", "payer", "payee", "operator", "token", "arbiter", "service_fee_recipient",
		"commission_rate_bps", "payment_rate", "lockup_fixed", "lockup_period", "settled_upto",
		"state", "end_epoch", "total_settled_amount", "total_net_payee_amount", "total_commission",
		"total_settlements", "total_rate_changes", "created_at",
	}
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.RailID, row.Payer, row.Payee, row.Operator, row.Token, row.Arbiter,
			row.ServiceFeeRecipient,
			strconv.FormatUint(row.CommissionRateBps, 10),
			row.PaymentRate, row.LockupFixed, row.LockupPeriod,
			strconv.FormatUint(row.SettledUpto, 10),
			row.State,
			strconv.FormatUint(row.EndEpoch, 10),
			row.TotalSettledAmount, row.TotalNetPayeeAmount, row.TotalCommission,
			strconv.FormatUint(row.TotalSettlements, 10),
			strconv.FormatUint(row.TotalRateChanges, 10),
			strconv.FormatUint(row.CreatedAt, 10),
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	csvFile, err := writeChecksummed(filepath.Join(runDir, "rails.csv"), buffer.Bytes(), len(rows))
	if err != nil {
		return nil, err
	}

	parquetPath := filepath.Join(runDir, "rails.parquet")
	if err := writeRailParquet(parquetPath, rows); err != nil {
		return nil, err
	}
	parquetFile, err := checksumExisting(parquetPath, len(rows))
	if err != nil {
		return nil, err
	}
	return []File{csvFile, parquetFile}, nil
}

type railParquetRow struct {
	RailID              string `parquet:"name=rail_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payer               string `parquet:"name=payer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payee               string `parquet:"name=payee, type=BYTE_ARRAY, convertedtype=UTF8"`
	Operator            string `parquet:"name=operator, type=BYTE_ARRAY, convertedtype=UTF8"`
	Token               string `parquet:"name=token, type=BYTE_ARRAY, convertedtype=UTF8"`
	CommissionRateBps   int64  `parquet:"name=commission_rate_bps, type=INT64"`
	PaymentRate         string `parquet:"name=payment_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	LockupFixed         string `parquet:"name=lockup_fixed, type=BYTE_ARRAY, convertedtype=UTF8"`
	LockupPeriod        string `parquet:"name=lockup_period, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledUpto         int64  `parquet:"name=settled_upto, type=INT64"`
	State               string `parquet:"name=state, type=BYTE_ARRAY, convertedtype=UTF8"`
	EndEpoch            int64  `parquet:"name=end_epoch, type=INT64"`
	TotalSettledAmount  string `parquet:"name=total_settled_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalNetPayeeAmount string `parquet:"name=total_net_payee_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalCommission     string `parquet:"name=total_commission, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalSettlements    int64  `parquet:"name=total_settlements, type=INT64"`
	TotalRateChanges    int64  `parquet:"name=total_rate_changes, type=INT64"`
	CreatedAt           int64  `parquet:"name=created_at, type=INT64"`
}

func writeRailParquet(path string, rows []readmodel.RailRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(railParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		pr := &railParquetRow{
			RailID:              row.RailID,
			Payer:               row.Payer,
			Payee:               row.Payee,
			Operator:            row.Operator,
			Token:               row.Token,
			CommissionRateBps:   int64(row.CommissionRateBps),
			PaymentRate:         row.PaymentRate,
			LockupFixed:         row.LockupFixed,
			LockupPeriod:        row.LockupPeriod,
			SettledUpto:         int64(row.SettledUpto),
			State:               row.State,
			EndEpoch:            int64(row.EndEpoch),
			TotalSettledAmount:  row.TotalSettledAmount,
			TotalNetPayeeAmount: row.TotalNetPayeeAmount,
			TotalCommission:     row.TotalCommission,
			TotalSettlements:    int64(row.TotalSettlements),
			TotalRateChanges:    int64(row.TotalRateChanges),
			CreatedAt:           int64(row.CreatedAt),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}

func (e *Exporter) writeSettlements(runDir string, rows []readmodel.SettlementRow) ([]File, error) {
	buffer := &bytes.Buffer{}
	cw := csv.NewWriter(buffer)
	header := []string{
		"tx_hash", "log_index", "rail_id", "total_settled_amount", "total_net_payee_amount",
		"operator_commission", "fil_burned", "settled_upto",
	}
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.TxHash,
			strconv.FormatUint(uint64(row.LogIndex), 10),
			row.RailID,
			row.TotalSettledAmount,
			row.TotalNetPayeeAmount,
			row.OperatorCommission,
			row.FilBurned,
			strconv.FormatUint(row.SettledUpto, 10),
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	csvFile, err := writeChecksummed(filepath.Join(runDir, "settlements.csv"), buffer.Bytes(), len(rows))
	if err != nil {
		return nil, err
	}

	parquetPath := filepath.Join(runDir, "settlements.parquet")
	if err := writeSettlementParquet(parquetPath, rows); err != nil {
		return nil, err
	}
	parquetFile, err := checksumExisting(parquetPath, len(rows))
	if err != nil {
		return nil, err
	}
	return []File{csvFile, parquetFile}, nil
}

type settlementParquetRow struct {
	TxHash              string `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	LogIndex            int64  `parquet:"name=log_index, type=INT64"`
	RailID              string `parquet:"name=rail_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalSettledAmount  string `parquet:"name=total_settled_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalNetPayeeAmount string `parquet:"name=total_net_payee_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	OperatorCommission  string `parquet:"name=operator_commission, type=BYTE_ARRAY, convertedtype=UTF8"`
	FilBurned           string `parquet:"name=fil_burned, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledUpto         int64  `parquet:"name=settled_upto, type=INT64"`
}

func writeSettlementParquet(path string, rows []readmodel.SettlementRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(settlementParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		pr := &settlementParquetRow{
			TxHash:              row.TxHash,
			LogIndex:            int64(row.LogIndex),
			RailID:              row.RailID,
			TotalSettledAmount:  row.TotalSettledAmount,
			TotalNetPayeeAmount: row.TotalNetPayeeAmount,
			OperatorCommission:  row.OperatorCommission,
			FilBurned:           row.FilBurned,
			SettledUpto:         int64(row.SettledUpto),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}

func (e *Exporter) writeDailyMetrics(runDir string, rows []readmodel.DailyMetricRow) (File, error) {
	buffer := &bytes.Buffer{}
	cw := csv.NewWriter(buffer)
	header := []string{
		"day", "rails_created", "rate_changes", "terminations", "finalizations",
		"deposits", "withdrawals", "settlements", "one_time_payments",
		"deposit_volume", "withdrawal_volume", "settled_volume", "fees_burned",
	}
	if err := cw.Write(header); err != nil {
		return File{}, err
	}
	for _, row := range rows {
		record := []string{
			row.Day,
			strconv.FormatUint(row.RailsCreated, 10),
			strconv.FormatUint(row.RateChanges, 10),
			strconv.FormatUint(row.Terminations, 10),
			strconv.FormatUint(row.Finalizations, 10),
			strconv.FormatUint(row.Deposits, 10),
			strconv.FormatUint(row.Withdrawals, 10),
			strconv.FormatUint(row.Settlements, 10),
			strconv.FormatUint(row.OneTimePayments, 10),
			row.DepositVolume,
			row.WithdrawalVolume,
			row.SettledVolume,
			row.FeesBurned,
		}
		if err := cw.Write(record); err != nil {
			return File{}, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return File{}, err
	}
	return writeChecksummed(filepath.Join(runDir, "daily_metrics.csv"), buffer.Bytes(), len(rows))
}

func checksumExisting(path string, rows int) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("exports: checksum %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return File{Path: path, Rows: rows, Checksum: hex.EncodeToString(sum[:])}, nil
}
