package export

import (
	"context"
	"fmt"
	"log"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"PCIeSpectra/internal/config"
	"PCIeSpectra/internal/model"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS tlp_records (
    SessionID   String,
    Seq         UInt64,
    Cycle       UInt64,
    Kind        UInt8,
    Type        UInt8,
    Valid       UInt8,
    IsWrite     UInt8,
    RequesterID UInt16,
    Tag         UInt8,
    CplStatus   UInt8,
    Address     UInt64,
    PayloadLen  UInt16,
    Payload     String,
    GapFirst    UInt64,
    GapLast     UInt64
) ENGINE = MergeTree()
ORDER BY (SessionID, Seq);
`

// ClickHouseSink batch-inserts drained sessions into the tlp_records table
// for offline analysis and long-term retention.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects and ensures the table exists.
func NewClickHouseSink(cfg config.ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured tlp_records exists.")
	return &ClickHouseSink{conn: conn}, nil
}

// WriteBatch inserts all entries of a drained session.
func (s *ClickHouseSink) WriteBatch(sessionID string, entries []*model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(context.Background(), "INSERT INTO tlp_records")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range entries {
		if e.Kind == model.EntryOverflow {
			err = batch.Append(
				sessionID, e.GapFirst, uint64(0), uint8(model.EntryOverflow),
				uint8(0), uint8(0), uint8(0), uint16(0), uint8(0), uint8(0),
				uint64(0), uint16(0), "", e.GapFirst, e.GapLast,
			)
		} else {
			rec := e.Record
			err = batch.Append(
				sessionID, rec.Seq, rec.Timestamp, uint8(model.EntryRecord),
				uint8(rec.Header.Type), boolToUint8(rec.Valid), boolToUint8(rec.Header.IsWrite),
				rec.Header.RequesterID, rec.Header.Tag, rec.Header.CplStatus,
				rec.Header.Address, uint16(len(rec.Payload)), string(rec.Payload),
				uint64(0), uint64(0),
			)
		}
		if err != nil {
			return fmt.Errorf("failed to append record to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	log.Printf("Wrote %d entries to ClickHouse for session '%s'", len(entries), sessionID)
	return nil
}

// Close closes the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
