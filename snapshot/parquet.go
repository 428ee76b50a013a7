package snapshot

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/native/escrow"
)

// Record is one agreement as written to a snapshot. Amounts are base-10
// strings in token base units.
type Record struct {
	ID         string
	Client     string
	Freelancer string
	Amount     string
	Handshake  bool
	CreatedAt  int64
	UpdatedAt  int64
}

// FromAgreement converts a ledger agreement into a snapshot record.
func FromAgreement(a *escrow.Agreement) Record {
	amount := "0"
	if a.Amount != nil {
		amount = a.Amount.String()
	}
	return Record{
		ID:         crypto.FormatID(a.ID),
		Client:     crypto.AddressFromBytes(a.Client).String(),
		Freelancer: crypto.AddressFromBytes(a.Freelancer).String(),
		Amount:     amount,
		Handshake:  a.Handshake,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

type parquetRow struct {
	ID         string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Client     string `parquet:"name=client, type=BYTE_ARRAY, convertedtype=UTF8"`
	Freelancer string `parquet:"name=freelancer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Handshake  bool   `parquet:"name=handshake, type=BOOLEAN"`
	CreatedAt  int64  `parquet:"name=created_at, type=INT64"`
	UpdatedAt  int64  `parquet:"name=updated_at, type=INT64"`
}

// WriteFile writes records to a Snappy-compressed parquet file at path.
func WriteFile(path string, records []Record) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("snapshot: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		fw.Close()
		return fmt.Errorf("snapshot: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &parquetRow{
			ID:         rec.ID,
			Client:     rec.Client,
			Freelancer: rec.Freelancer,
			Amount:     rec.Amount,
			Handshake:  rec.Handshake,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("snapshot: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("snapshot: parquet flush: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("snapshot: close parquet file: %w", err)
	}
	return nil
}

// ReadFile loads every record from a snapshot written by WriteFile.
func ReadFile(path string) ([]Record, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open parquet: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	if err != nil {
		return nil, fmt.Errorf("snapshot: parquet schema: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]parquetRow, int(pr.GetNumRows()))
	if len(rows) == 0 {
		return nil, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("snapshot: parquet read: %w", err)
	}
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record{
			ID:         row.ID,
			Client:     row.Client,
			Freelancer: row.Freelancer,
			Amount:     row.Amount,
			Handshake:  row.Handshake,
			CreatedAt:  row.CreatedAt,
			UpdatedAt:  row.UpdatedAt,
		}
	}
	return records, nil
}
