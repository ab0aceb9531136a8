// Package sqlite provides SQLite database writing for integration results
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisMcGann/hquant/pkg/integrate"
	"github.com/ChrisMcGann/hquant/pkg/relmap"
)

// Date format for RunTable (ISO 8601)
const runDateFormat = "2006-01-02 15:04:05"

// RunInfo describes the analysis a run belongs to
type RunInfo struct {
	QuantType   string
	Outcome     string
	WorkDir     string
	Description string
}

// Writer handles writing integration results to SQLite database files
type Writer struct {
	db         *sql.DB
	outputPath string
	runID      string
	stepStmt   *sql.Stmt
	valueStmt  *sql.Stmt
	statStmt   *sql.Stmt
	closed     bool
}

// NewWriter opens (or creates) the database and records a new run
func NewWriter(outputPath string, info RunInfo) (*Writer, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		outputPath: outputPath,
		runID:      uuid.New().String(),
	}

	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	if err := w.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	_, err = db.Exec(`
		INSERT INTO RunTable (RunId, CreationDate, QuantType, Outcome, WorkDir, Description)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.runID, time.Now().Format(runDateFormat), info.QuantType, info.Outcome, info.WorkDir, info.Description)
	if err != nil {
		w.closeStatements()
		db.Close()
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return w, nil
}

// RunID returns the identifier of the run being written
func (w *Writer) RunID() string {
	return w.runID
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS RunTable (
		RunId TEXT PRIMARY KEY,
		CreationDate TEXT,
		FinishedDate TEXT,
		QuantType TEXT,
		Outcome TEXT,
		WorkDir TEXT,
		Description TEXT
	);

	CREATE TABLE IF NOT EXISTS StepTable (
		StepId INTEGER PRIMARY KEY AUTOINCREMENT,
		RunId TEXT REFERENCES RunTable(RunId),
		Experiment TEXT,
		Dataset TEXT,
		Level TEXT,
		IsMerge BOOL,
		IsFinal BOOL,
		Variance DOUBLE,
		Retried BOOL,
		Reused BOOL,
		DataFile TEXT,
		RelFile TEXT,
		HigherLevelFile TEXT
	);

	CREATE TABLE IF NOT EXISTS ValueTable (
		StepId INTEGER REFERENCES StepTable(StepId),
		Identifier TEXT,
		X DOUBLE,
		Weight DOUBLE
	);

	CREATE TABLE IF NOT EXISTS StatTable (
		StepId INTEGER REFERENCES StepTable(StepId),
		Identifier TEXT,
		X DOUBLE,
		FDR DOUBLE
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// prepareStatements prepares SQL statements for batch insertion
func (w *Writer) prepareStatements() error {
	var err error

	w.stepStmt, err = w.db.Prepare(`
		INSERT INTO StepTable (
			RunId, Experiment, Dataset, Level, IsMerge, IsFinal, Variance,
			Retried, Reused, DataFile, RelFile, HigherLevelFile
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare step statement: %w", err)
	}

	w.valueStmt, err = w.db.Prepare(`INSERT INTO ValueTable (StepId, Identifier, X, Weight) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare value statement: %w", err)
	}

	w.statStmt, err = w.db.Prepare(`INSERT INTO StatTable (StepId, Identifier, X, FDR) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare stat statement: %w", err)
	}

	return nil
}

// WriteStep writes one step and the values of its higher-level file
func (w *Writer) WriteStep(sr *integrate.StepResult, final bool) error {
	rows, err := relmap.ReadDataFile(sr.HigherLevel)
	if err != nil {
		return fmt.Errorf("failed to read step output: %w", err)
	}

	res, err := w.stepStmt.Exec(
		w.runID,           // RunId
		sr.Experiment,     // Experiment
		sr.Dataset,        // Dataset
		sr.Level.String(), // Level
		sr.Merge,          // IsMerge
		final,             // IsFinal
		sr.Variance,       // Variance
		sr.Retried,        // Retried
		sr.Reused,         // Reused
		sr.DataFile,       // DataFile
		sr.RelFile,        // RelFile
		sr.HigherLevel,    // HigherLevelFile
	)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}
	stepID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read step id: %w", err)
	}

	for _, r := range rows {
		if _, err := w.valueStmt.Exec(stepID, r.Key, r.X, r.Weight); err != nil {
			return fmt.Errorf("failed to insert value: %w", err)
		}
	}
	for _, s := range sr.Stats {
		if _, err := w.statStmt.Exec(stepID, s.ID, s.X, s.FDR); err != nil {
			return fmt.Errorf("failed to insert stat: %w", err)
		}
	}

	return nil
}

// WriteResult writes every step of a run, marking the final ones
func (w *Writer) WriteResult(res *integrate.Result) error {
	final := make(map[*integrate.StepResult]bool)
	for _, sr := range res.Final() {
		final[sr] = true
	}
	for _, sr := range res.Steps() {
		if err := w.WriteStep(sr, final[sr]); err != nil {
			return fmt.Errorf("%s %s: %w", sr.Dataset, sr.Level, err)
		}
	}
	return nil
}

// Finalize records the finish date and closes the database
func (w *Writer) Finalize() error {
	if w.closed {
		return nil
	}
	_, err := w.db.Exec(`UPDATE RunTable SET FinishedDate = ? WHERE RunId = ?`,
		time.Now().Format(runDateFormat), w.runID)
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to update run: %w", err)
	}
	return w.Close()
}

// Close closes the database without marking the run finished. A run that
// was never finalized keeps a NULL FinishedDate.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.closeStatements()

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (w *Writer) closeStatements() {
	for _, stmt := range []*sql.Stmt{w.stepStmt, w.valueStmt, w.statStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}
