package edfparser

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// InitializeDB opens (or creates) an inventory database of EDF/BDF headers.
func InitializeDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening SQLite database: %w", err)
	}

	// Apply PRAGMA settings for better performance
	_, err = db.Exec("PRAGMA synchronous = OFF")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error applying PRAGMA synchronous: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error applying PRAGMA journal_mode: %w", err)
	}

	createTableQueries := []string{
		`CREATE TABLE IF NOT EXISTS header (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            path TEXT UNIQUE,
            format TEXT,
            version TEXT,
            patient_id TEXT,
            recording_id TEXT,
            start_date TEXT,
            start_time TEXT,
            reserved TEXT,
            header_bytes INTEGER,
            num_records INTEGER,
            record_duration REAL,
            num_signals INTEGER
        );`,
		`CREATE TABLE IF NOT EXISTS signals (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            header_id INTEGER,
            position INTEGER,
            label TEXT,
            transducer TEXT,
            units TEXT,
            physical_min REAL,
            physical_max REAL,
            digital_min INTEGER,
            digital_max INTEGER,
            prefiltering TEXT,
            num_samples INTEGER,
            reserved TEXT,
            FOREIGN KEY(header_id) REFERENCES header(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS data (
            signal_id INTEGER,
            record_number INTEGER,
            samples BLOB,
            PRIMARY KEY (signal_id, record_number),
            FOREIGN KEY(signal_id) REFERENCES signals(id) ON DELETE CASCADE
        );`,
	}

	for _, query := range createTableQueries {
		_, err := db.Exec(query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("error creating tables: %w", err)
		}
	}

	return db, nil
}

// IndexFile stores the header and signal headers of an EDF/BDF file. With
// withData every data record is also stored, one float64 blob per signal and
// record. Re-indexing a path replaces its previous rows.
func IndexFile(db *sql.DB, path string, withData bool) (int64, error) {
	inputFile, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("error opening input file: %w", err)
	}
	defer inputFile.Close()

	header, signals, err := ReadHeader(inputFile)
	if err != nil {
		return 0, fmt.Errorf("header parsing failed: %w", err)
	}
	if header.NRecords < 0 {
		if header.NRecords, err = recordsFromSize(inputFile, header, signals); err != nil {
			return 0, err
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteFile(tx, path); err != nil {
		return 0, err
	}
	headerID, err := storeHeader(tx, path, header)
	if err != nil {
		return 0, fmt.Errorf("error storing header: %w", err)
	}
	signalIDs, err := storeSignals(tx, headerID, signals)
	if err != nil {
		return 0, fmt.Errorf("error storing signals: %w", err)
	}
	if withData {
		scalings := calculateScalingFactors(signals)
		if err := storeRecords(tx, inputFile, header, signals, scalings, signalIDs); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing transaction: %w", err)
	}
	return headerID, nil
}

func deleteFile(tx *sql.Tx, path string) error {
	queries := []string{
		`DELETE FROM data WHERE signal_id IN (SELECT s.id FROM signals s JOIN header h ON s.header_id = h.id WHERE h.path = ?)`,
		`DELETE FROM signals WHERE header_id IN (SELECT id FROM header WHERE path = ?)`,
		`DELETE FROM header WHERE path = ?`,
	}
	for _, q := range queries {
		if _, err := tx.Exec(q, path); err != nil {
			return fmt.Errorf("error removing previous index of %s: %w", path, err)
		}
	}
	return nil
}

func storeHeader(tx *sql.Tx, path string, header Header) (int64, error) {
	query := `INSERT INTO header (path, format, version, patient_id, recording_id, start_date, start_time, reserved, header_bytes, num_records, record_duration, num_signals)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.Exec(query, path, header.Format.String(), header.Version, header.PatientID, header.RecordingID, header.StartDate, header.StartTime, header.Reserved, header.HeaderBytes, header.NRecords, header.RecordDuration, header.NSignals)
	if err != nil {
		return 0, fmt.Errorf("error inserting header: %w", err)
	}
	return result.LastInsertId()
}

func storeSignals(tx *sql.Tx, headerID int64, signals []Signal) ([]int64, error) {
	stmt, err := tx.Prepare(`INSERT INTO signals (header_id, position, label, transducer, units, physical_min, physical_max, digital_min, digital_max, prefiltering, num_samples, reserved)
                             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("error preparing insert statement: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(signals))
	for i, signal := range signals {
		res, err := stmt.Exec(headerID, i, signal.Label, signal.Transducer, signal.Units, signal.PhysicalMin, signal.PhysicalMax, signal.DigitalMin, signal.DigitalMax, signal.Prefiltering, signal.NSamples, signal.Reserved)
		if err != nil {
			return nil, fmt.Errorf("error inserting signal %s: %w", signal.Label, err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func storeRecords(tx *sql.Tx, inputFile io.Reader, header Header, signals []Signal, scalings []ScalingFactors, signalIDs []int64) error {
	stmt, err := tx.Prepare(`INSERT INTO data (signal_id, record_number, samples) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing insert statement: %w", err)
	}
	defer stmt.Close()

	recordBuffer := make([]byte, calculateBytesPerRecord(signals, header.Format))
	for rec := 0; rec < header.NRecords; rec++ {
		if _, err := io.ReadFull(inputFile, recordBuffer); err != nil {
			return fmt.Errorf("error reading record %d: %w", rec, err)
		}

		recordData, err := parseRecord(recordBuffer, signals, scalings, header.Format)
		if err != nil {
			return fmt.Errorf("error parsing record %d: %w", rec, err)
		}

		for sigIdx, samples := range recordData {
			if _, err := stmt.Exec(signalIDs[sigIdx], rec, float64SliceToBytes(samples)); err != nil {
				return fmt.Errorf("error inserting data for signal %d, record %d: %w", sigIdx, rec, err)
			}
		}
	}
	return nil
}

func float64SliceToBytes(samples []float64) []byte {
	bytes := make([]byte, len(samples)*8)
	for i, f := range samples {
		binary.LittleEndian.PutUint64(bytes[i*8:(i+1)*8], math.Float64bits(f))
	}
	return bytes
}

// bytesToFloat64Slice is the inverse of float64SliceToBytes.
func bytesToFloat64Slice(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}

// IndexedFile is one row of the inventory.
type IndexedFile struct {
	Path     string
	Format   string
	Signals  int
	Records  int
	Duration float64
}

// ListIndexed returns every indexed file ordered by path.
func ListIndexed(db *sql.DB) ([]IndexedFile, error) {
	rows, err := db.Query(`SELECT path, format, num_signals, num_records, record_duration FROM header ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("error querying inventory: %w", err)
	}
	defer rows.Close()

	var files []IndexedFile
	for rows.Next() {
		var f IndexedFile
		var recDuration float64
		if err := rows.Scan(&f.Path, &f.Format, &f.Signals, &f.Records, &recDuration); err != nil {
			return nil, fmt.Errorf("error scanning inventory row: %w", err)
		}
		f.Duration = recDuration * float64(f.Records)
		files = append(files, f)
	}
	return files, rows.Err()
}

// LoadSignalData reassembles the stored samples of one signal of an indexed file.
func LoadSignalData(db *sql.DB, path, label string) ([]float64, error) {
	rows, err := db.Query(`SELECT d.samples FROM data d
        JOIN signals s ON d.signal_id = s.id
        JOIN header h ON s.header_id = h.id
        WHERE h.path = ? AND s.label = ?
        ORDER BY d.record_number`, path, label)
	if err != nil {
		return nil, fmt.Errorf("error querying samples: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("error scanning samples: %w", err)
		}
		out = append(out, bytesToFloat64Slice(blob)...)
	}
	return out, rows.Err()
}
